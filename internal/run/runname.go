package run

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// adjectives and animals back the adjective-animal-int run name generator.
// No example repo carries a name generator for this shape; the word lists
// and the "-int" suffix are a direct, minimal port of the contract's
// documented format.
var adjectives = []string{
	"brave", "calm", "eager", "fuzzy", "gentle", "happy", "icy", "jolly",
	"keen", "lively", "mighty", "nimble", "odd", "plucky", "quiet", "rapid",
	"sly", "tidy", "upbeat", "vivid", "witty", "zesty",
}

var animals = []string{
	"otter", "falcon", "lynx", "heron", "badger", "marten", "ibis", "gecko",
	"raven", "puma", "wren", "vole", "newt", "stoat", "tern", "shrew",
}

// GenerateRunName returns a run name shaped "adjective-animal-int".
func GenerateRunName() (string, error) {
	adj, err := pick(adjectives)
	if err != nil {
		return "", err
	}
	animal, err := pick(animals)
	if err != nil {
		return "", err
	}
	n, err := randInt(1000)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%d", adj, animal, n), nil
}

// GenerateRunID returns a v4 UUID string.
func GenerateRunID() string {
	return uuid.NewString()
}

func pick(words []string) (string, error) {
	n, err := randInt(len(words))
	if err != nil {
		return "", err
	}
	return words[n], nil
}

func randInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("run: generate random int: %w", err)
	}
	return int(n.Int64()), nil
}
