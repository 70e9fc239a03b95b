package browser

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Identity is the throwaway account submitted to the registration form.
type Identity struct {
	Username string
	Password string
}

type IdentityFunc func() (Identity, error)

var (
	usernameAdjectives = []string{"quiet", "amber", "swift", "lucky", "mellow", "brisk", "sunny", "velvet", "cosmic", "gentle"}
	usernameNouns      = []string{"owl", "river", "falcon", "maple", "harbor", "comet", "pixel", "cedar", "otter", "lantern"}
)

func NewIdentity() (Identity, error) {
	adjective, err := pick(usernameAdjectives)
	if err != nil {
		return Identity{}, err
	}
	noun, err := pick(usernameNouns)
	if err != nil {
		return Identity{}, err
	}
	suffix, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return Identity{}, fmt.Errorf("generate username suffix: %w", err)
	}

	secret, err := uuid.NewRandom()
	if err != nil {
		return Identity{}, fmt.Errorf("generate password: %w", err)
	}
	password := strings.ReplaceAll(secret.String(), "-", "")[:16] + "A!9"

	return Identity{
		Username: fmt.Sprintf("%s%s%04d", adjective, noun, suffix.Int64()),
		Password: password,
	}, nil
}

func pick(words []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", fmt.Errorf("pick identity word: %w", err)
	}
	return words[n.Int64()], nil
}
