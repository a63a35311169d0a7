package lifecycle

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Config holds environment-driven engine settings.
type Config struct {
	// ArchiveRoles hold archive authority.
	ArchiveRoles []Role
	// MinPasscodeLength is the shortest passcode accepted as a signing attestation.
	MinPasscodeLength int
	// AttestationCost is the bcrypt cost used to digest signing passcodes.
	AttestationCost int
	// DefaultVersion is assigned to documents created without a version.
	DefaultVersion string
	// DefaultStandards are linked to new documents and templates that name none.
	DefaultStandards []string
	// SignatureStandard is always mapped onto signature audit entries.
	SignatureStandard string
}

func DefaultConfig() Config {
	return Config{
		ArchiveRoles:      []Role{"System Administrator"},
		MinPasscodeLength: 6,
		AttestationCost:   bcrypt.DefaultCost,
		DefaultVersion:    "0.1-draft",
		DefaultStandards:  []string{"21 CFR Part 11"},
		SignatureStandard: "21 CFR Part 11",
	}
}

func LoadConfig() Config {
	def := DefaultConfig()
	return Config{
		ArchiveRoles:      toRoles(getList("DMS_ARCHIVE_ROLES", []string{"System Administrator"})),
		MinPasscodeLength: getInt("DMS_MIN_PASSCODE_LEN", def.MinPasscodeLength),
		AttestationCost:   clampCost(getInt("DMS_ATTESTATION_COST", def.AttestationCost)),
		DefaultVersion:    getenv("DMS_DEFAULT_VERSION", def.DefaultVersion),
		DefaultStandards:  getList("DMS_DEFAULT_STANDARDS", def.DefaultStandards),
		SignatureStandard: getenv("DMS_SIGNATURE_STANDARD", def.SignatureStandard),
	}
}

// clampCost keeps the attestation cost inside the range bcrypt accepts.
func clampCost(cost int) int {
	return min(max(cost, bcrypt.MinCost), bcrypt.MaxCost)
}

func toRoles(in []string) []Role {
	out := make([]Role, 0, len(in))
	for _, r := range in {
		out = append(out, Role(r))
	}
	return out
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getList reads a comma separated list.
func getList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
