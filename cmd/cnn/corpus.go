package main

import (
	"math/rand"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var loremWords = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit",
	"sed", "do", "eiusmod", "tempor", "incididunt", "ut", "labore", "et", "dolore",
	"magna", "aliqua", "enim", "ad", "minim", "veniam", "quis", "nostrud",
	"exercitation", "ullamco", "laboris", "nisi", "aliquip", "ex", "ea",
	"commodo", "consequat", "duis", "aute", "irure", "in", "reprehenderit",
	"voluptate", "velit", "esse", "cillum", "eu", "fugiat", "nulla",
}

// generateCorpus returns n capitalised lorem sentences of 3 to 8 words,
// deterministic in seed.
func generateCorpus(n int, seed int64) []string {
	r := rand.New(rand.NewSource(seed))
	title := cases.Title(language.Und)
	out := make([]string, n)
	for i := range out {
		words := make([]string, 3+r.Intn(6))
		for k := range words {
			words[k] = loremWords[r.Intn(len(loremWords))]
		}
		words[0] = title.String(words[0])
		out[i] = strings.Join(words, " ")
	}
	return out
}
