// Package directory is a file-backed identity provider. It reads users from a YAML file
// and checks passwords against their argon2id hashes.
//
// The file looks like:
//
//	argon2:
//	  memory: 65536
//	  time: 3
//	  parallelism: 2
//	  salt_length: 16
//	  key_length: 32
//	users:
//	  - id: u-100
//	    email: ana@example.com
//	    role: student
//	    password_hash: $argon2id$v=19$m=65536,t=3,p=2$...
//
// The argon2 block is optional and only sets the cost of the timing-equalization work
// done for unknown emails.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/halaqah/authcore/httpapi"
	"github.com/halaqah/authcore/password"
	"github.com/halaqah/authcore/permission"
	"gopkg.in/yaml.v3"
)

type fileUser struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	Role         string `yaml:"role"`
	PasswordHash string `yaml:"password_hash"`
	Disabled     bool   `yaml:"disabled"`
}

type file struct {
	Argon2 *password.Config `yaml:"argon2"`
	Users  []fileUser       `yaml:"users"`
}

type user struct {
	identity httpapi.Identity
	hash     string
	disabled bool
}

// Directory implements httpapi.Authenticator over an in-memory user table.
type Directory struct {
	hasher  *password.Argon2
	byEmail map[string]user
}

// Load reads and parses the user file at path.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user directory: %w", err)
	}
	return Parse(data)
}

// Parse builds a Directory from YAML. Emails are matched case-insensitively and must be
// unique.
func Parse(data []byte) (*Directory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse user directory: %w", err)
	}

	cfg := password.DefaultConfig()
	if f.Argon2 != nil {
		cfg = *f.Argon2
	}
	hasher, err := password.NewArgon2(cfg)
	if err != nil {
		return nil, err
	}

	d := &Directory{hasher: hasher, byEmail: make(map[string]user, len(f.Users))}
	for i, u := range f.Users {
		email := normalizeEmail(u.Email)
		if u.ID == "" || email == "" {
			return nil, fmt.Errorf("user %d: id and email are required", i)
		}
		role, err := permission.ParseRole(u.Role)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", u.ID, err)
		}
		if _, err := hasher.NeedsUpgrade(u.PasswordHash); err != nil {
			return nil, fmt.Errorf("user %s: %w", u.ID, err)
		}
		if _, dup := d.byEmail[email]; dup {
			return nil, fmt.Errorf("user %s: duplicate email %s", u.ID, email)
		}
		d.byEmail[email] = user{
			identity: httpapi.Identity{UserID: u.ID, Role: role, Email: strings.TrimSpace(u.Email)},
			hash:     u.PasswordHash,
			disabled: u.Disabled,
		}
	}
	return d, nil
}

// Len returns the number of users.
func (d *Directory) Len() int {
	return len(d.byEmail)
}

// Authenticate checks email and password. Unknown emails, wrong passwords and disabled
// accounts all return httpapi.ErrInvalidCredentials.
func (d *Directory) Authenticate(ctx context.Context, email, pass string) (httpapi.Identity, error) {
	if err := ctx.Err(); err != nil {
		return httpapi.Identity{}, err
	}

	u, ok := d.byEmail[normalizeEmail(email)]
	if !ok {
		d.hasher.VerifyDummy(pass)
		return httpapi.Identity{}, httpapi.ErrInvalidCredentials
	}
	match, err := d.hasher.Verify(pass, u.hash)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return httpapi.Identity{}, fmt.Errorf("user %s: %w", u.identity.UserID, err)
		}
		return httpapi.Identity{}, err
	}
	if !match || u.disabled {
		return httpapi.Identity{}, httpapi.ErrInvalidCredentials
	}
	return u.identity, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
