package users

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Role is a hospital staff role as reported by GET /auth/me
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleDoctor        Role = "doctor"
	RoleNurse         Role = "nurse"
	RoleLabTechnician Role = "lab_technician"
	RolePharmacist    Role = "pharmacist"
	RoleReceptionist  Role = "receptionist"
)

// Permission strings granted by the backend alongside roles
const (
	PermPatientsRead      = "patients:read"
	PermPatientsWrite     = "patients:write"
	PermVitalsWrite       = "vitals:write"
	PermPrescriptionsSign = "prescriptions:sign"
	PermLabResultsWrite   = "lab_results:write"
	PermBedsManage        = "beds:manage"
	PermStaffManage       = "staff:manage"
)

// Profile is the identity and role/permission snapshot of the signed in user.
type Profile struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	Department  string   `json:"department,omitempty"`
	Roles       []Role   `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func (p *Profile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Email
	}
	return name
}

func (p *Profile) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the profile carries perm. Admins hold every permission.
func (p *Profile) HasPermission(perm string) bool {
	if p.HasRole(RoleAdmin) {
		return true
	}
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

// RoleStrings returns the roles as plain strings (token claims)
func (p *Profile) RoleStrings() []string {
	roles := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, string(r))
	}
	return roles
}

// Account is a staff login held by the reference backend.
type Account struct {
	Profile
	PasswordHash string `json:"-"` // never serialize
	OTPCode      string `json:"-"` // when set, login requires this one-time password
	Blocked      bool   `json:"blocked,omitempty"`
}

func (a *Account) RequiresOTP() bool {
	return a.OTPCode != ""
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
