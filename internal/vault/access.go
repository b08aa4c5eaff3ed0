// internal/vault/access.go
package vault

import "fmt"

// RequireAdmin fails with ErrUnauthorized unless caller is the vault admin.
func RequireAdmin(caller Address, s *State) error {
	if caller.IsZero() || caller != s.Admin {
		return ErrUnauthorized
	}
	return nil
}

// RequireUnpaused fails with ErrVaultPaused while the vault is paused.
func RequireUnpaused(s *State) error {
	if s.Paused {
		return ErrVaultPaused
	}
	return nil
}

// SetPause sets the pause flag. Setting the current value again is not an error.
func SetPause(caller Address, s *State, paused bool) error {
	if err := RequireAdmin(caller, s); err != nil {
		return err
	}
	s.Paused = paused
	return nil
}

// SetAdmin hands the admin role to newAdmin.
func SetAdmin(caller Address, s *State, newAdmin Address) error {
	if err := RequireAdmin(caller, s); err != nil {
		return err
	}
	if newAdmin.IsZero() {
		return fmt.Errorf("%w: empty admin", ErrInvalidIdentity)
	}
	s.Admin = newAdmin
	return nil
}
