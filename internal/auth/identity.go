package auth

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hackgods/project-vector/internal/domain"
)

var identityNamespace = uuid.MustParse("3b0f5c8e-2a61-4f0e-9c3d-7e5a1b9d4c21")

// Identity is what a sign-in email resolves to.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Alias  string
	Role   domain.Role
}

// Rules maps emails onto identities: exact matches first, then the first
// pattern whose substring occurs in the email, then the default role.
type Rules struct {
	Fixed       []FixedIdentity `yaml:"fixed"`
	Patterns    []Pattern       `yaml:"patterns"`
	DefaultRole domain.Role     `yaml:"default_role"`
}

type FixedIdentity struct {
	Email  string      `yaml:"email"`
	Alias  string      `yaml:"alias"`
	Role   domain.Role `yaml:"role"`
	UserID string      `yaml:"user_id,omitempty"`
}

type Pattern struct {
	Contains string      `yaml:"contains"`
	Role     domain.Role `yaml:"role"`
}

func DefaultRules() Rules {
	return Rules{
		Patterns: []Pattern{
			{Contains: "admin", Role: domain.RoleAdmin},
			{Contains: "provider", Role: domain.RoleProvider},
			{Contains: "doctor", Role: domain.RoleProvider},
			{Contains: "dr.", Role: domain.RoleProvider},
		},
		DefaultRole: domain.RoleMember,
	}
}

// LoadRules reads an identities YAML file. Patterns missing from the file
// fall back to the defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read identities file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse identities file: %w", err)
	}

	defaults := DefaultRules()
	if len(rules.Patterns) == 0 {
		rules.Patterns = defaults.Patterns
	}
	if rules.DefaultRole == "" {
		rules.DefaultRole = defaults.DefaultRole
	}
	for _, f := range rules.Fixed {
		if f.UserID != "" {
			if _, err := uuid.Parse(f.UserID); err != nil {
				return Rules{}, fmt.Errorf("identities file: user_id for %s: %w", f.Email, err)
			}
		}
	}
	return rules, nil
}

// Resolve derives an identity from email. The user id is stable for the same
// email across runs.
func (r Rules) Resolve(email string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return Identity{}, fmt.Errorf("%w: invalid email %q", domain.ErrInvalidInput, email)
	}

	for _, f := range r.Fixed {
		if strings.EqualFold(f.Email, email) {
			id := UserIDFor(email)
			if f.UserID != "" {
				id = uuid.MustParse(f.UserID)
			}
			alias := f.Alias
			if alias == "" {
				alias = deriveAlias(email[:at], f.Role)
			}
			return Identity{UserID: id, Email: email, Alias: alias, Role: f.Role}, nil
		}
	}

	role := r.DefaultRole
	if role == "" {
		role = domain.RoleMember
	}
	for _, p := range r.Patterns {
		if p.Contains != "" && strings.Contains(email, strings.ToLower(p.Contains)) {
			role = p.Role
			break
		}
	}

	return Identity{
		UserID: UserIDFor(email),
		Email:  email,
		Alias:  deriveAlias(email[:at], role),
		Role:   role,
	}, nil
}

func UserIDFor(email string) uuid.UUID {
	return uuid.NewSHA1(identityNamespace, []byte(strings.ToLower(strings.TrimSpace(email))))
}

// deriveAlias turns "dr.jane_smith" into "Dr. Jane Smith".
func deriveAlias(local string, role domain.Role) string {
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	var out []string
	titled := false
	for _, w := range words {
		if w == "dr" || w == "doctor" {
			titled = true
			continue
		}
		if w = strings.TrimFunc(w, unicode.IsDigit); w == "" {
			continue
		}
		out = append(out, capitalize(w))
	}
	if len(out) == 0 {
		out = []string{capitalize(local)}
	}

	alias := strings.Join(out, " ")
	if titled || role == domain.RoleProvider {
		alias = "Dr. " + alias
	}
	return alias
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
