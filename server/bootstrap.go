package server

import (
	"errors"
	"fmt"

	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/jrsteele09/hms-console/users"
	"github.com/rs/zerolog"
)

// StaffSeed is an account created at startup
type StaffSeed struct {
	Profile  users.Profile
	Password string
	OTPCode  string
}

// DemoStaff are the accounts `console serve-dev` starts with
var DemoStaff = []StaffSeed{
	{
		Profile: users.Profile{
			ID: "staff-admin", Email: "admin@hms.local", FirstName: "Ada", LastName: "Okafor",
			Department: "Administration", Roles: []users.Role{users.RoleAdmin},
		},
		Password: "Welcome123",
	},
	{
		Profile: users.Profile{
			ID: "staff-doctor", Email: "doctor@hms.local", FirstName: "Meredith", LastName: "Grey",
			Department: "Surgery", Roles: []users.Role{users.RoleDoctor},
			Permissions: []string{users.PermPatientsRead, users.PermPatientsWrite, users.PermPrescriptionsSign},
		},
		Password: "Welcome123",
		OTPCode:  "246810",
	},
	{
		Profile: users.Profile{
			ID: "staff-nurse", Email: "nurse@hms.local", FirstName: "Carla", LastName: "Espinosa",
			Department: "General Ward", Roles: []users.Role{users.RoleNurse},
			Permissions: []string{users.PermPatientsRead, users.PermVitalsWrite, users.PermBedsManage},
		},
		Password: "Welcome123",
	},
	{
		Profile: users.Profile{
			ID: "staff-lab", Email: "lab@hms.local", FirstName: "Raj", LastName: "Patel",
			Department: "Pathology", Roles: []users.Role{users.RoleLabTechnician},
			Permissions: []string{users.PermLabResultsWrite},
		},
		Password: "Welcome123",
	},
}

// SeedStaff creates every account in staff that does not exist yet.
// Existing accounts are left untouched.
func SeedStaff(repo users.Repo, staff []StaffSeed, logger zerolog.Logger) error {
	for _, seed := range staff {
		if _, err := repo.GetByEmail(seed.Profile.Email); err == nil {
			continue
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("failed to look up %s: %w", seed.Profile.Email, err)
		}

		if err := users.ValidatePasswordStrength(seed.Password); err != nil {
			return fmt.Errorf("seed %s: %w", seed.Profile.Email, err)
		}
		hash, err := users.HashPassword(seed.Password)
		if err != nil {
			return fmt.Errorf("seed %s: %w", seed.Profile.Email, err)
		}

		if err := repo.Upsert(&users.Account{
			Profile:      seed.Profile,
			PasswordHash: hash,
			OTPCode:      seed.OTPCode,
		}); err != nil {
			return fmt.Errorf("seed %s: %w", seed.Profile.Email, err)
		}
		logger.Info().
			Str("email", seed.Profile.Email).
			Strs("roles", seed.Profile.RoleStrings()).
			Bool("otp", seed.OTPCode != "").
			Msg("seeded staff account")
	}
	return nil
}
