package serverutils

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// AuthorizedUsers is the allow-list checked when authentication is required.
// A nil list admits everyone.
type AuthorizedUsers struct {
	emails map[string]struct{}
}

type authorizedUsersFile struct {
	Users []struct {
		Email string `json:"email"`
	} `json:"users"`
}

func LoadAuthorizedUsers(path string) (*AuthorizedUsers, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authorized users: %w", err)
	}

	var file authorizedUsersFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse authorized users: %w", err)
	}

	list := &AuthorizedUsers{emails: make(map[string]struct{}, len(file.Users))}
	for _, u := range file.Users {
		list.emails[strings.ToLower(strings.TrimSpace(u.Email))] = struct{}{}
	}
	return list, nil
}

// Check returns ErrPermissionDenied unless email is on the list.
func (a *AuthorizedUsers) Check(email string) error {
	if a == nil {
		return nil
	}
	if _, ok := a.emails[strings.ToLower(strings.TrimSpace(email))]; !ok {
		return fmt.Errorf("%w: %q is not an authorized user", ErrPermissionDenied, email)
	}
	return nil
}
