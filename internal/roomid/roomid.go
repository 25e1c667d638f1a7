// Package roomid generates memorable room identifiers.
package roomid

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

const wordsPerID = 4

var pool = [][]string{animals, dishes, names, randomWords, adjectives, extras}

var pattern = regexp.MustCompile(`^[a-z]+(-[a-z]+){3}$`)

// New returns an id like "kitten-waffle-stardust-happy": four words, each
// from a different list.
func New() string {
	lists := make([]int, len(pool))
	for i := range lists {
		lists[i] = i
	}
	// Partial Fisher-Yates picks distinct lists.
	words := make([]string, wordsPerID)
	for i := 0; i < wordsPerID; i++ {
		j := i + randomIndex(len(lists)-i)
		lists[i], lists[j] = lists[j], lists[i]
		list := pool[lists[i]]
		words[i] = list[randomIndex(len(list))]
	}
	return strings.Join(words, "-")
}

// Unique calls New until taken reports the id is free.
func Unique(taken func(string) bool) string {
	for {
		if id := New(); !taken(id) {
			return id
		}
	}
}

// Valid reports whether s has the shape New produces.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// randomIndex returns a cryptographically secure random index below n.
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("roomid: random source failed: " + err.Error())
	}
	return int(v.Int64())
}
