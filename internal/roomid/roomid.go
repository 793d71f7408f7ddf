// Package roomid generates memorable room ids such as "sleepy-otter-lantern".
package roomid

import (
	"crypto/rand"
	"log/slog"
	"math/big"
	"strings"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"quiet", "bouncy", "fuzzy", "plucky", "merry", "peppy", "sunny", "misty", "rusty", "lucky",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"duckling", "fawn", "lamb", "raccoon", "beaver", "seahorse", "dolphin", "whale", "narwhal", "penguin",
	"flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "badger", "heron", "lynx", "owl",
}

var things = []string{
	"lantern", "puddle", "pebble", "cottage", "rocket", "comet", "orbit", "nebula", "canyon", "ridge",
	"meadow", "willow", "ember", "breeze", "marble", "maple", "biscuit", "muffin", "teapot", "kettle",
	"harbor", "island", "garden", "window", "compass", "anchor", "violin", "ladder", "bridge", "beacon",
}

// maxAttempts bounds NewUnique before it falls back to a longer id.
const maxAttempts = 16

// New returns a random adjective-animal-thing id.
func New() string {
	return strings.Join([]string{pick(adjectives), pick(animals), pick(things)}, "-")
}

// NewUnique returns an id for which taken reports false. After a few
// collisions it appends a fourth word.
func NewUnique(taken func(string) bool) string {
	for i := 0; i < maxAttempts; i++ {
		if id := New(); !taken(id) {
			return id
		}
	}
	for {
		if id := New() + "-" + pick(things); !taken(id) {
			return id
		}
	}
}

// Valid reports whether id is usable as a room id: non-empty, at most 64
// bytes, letters, digits, '-' and '_' only.
func Valid(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func pick(words []string) string {
	return words[randomIndex(len(words))]
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		slog.Error("Failed to generate random index", "error", err)
		return 0
	}
	return int(n.Int64())
}
