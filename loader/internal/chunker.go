package internal

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum chunk length in characters.
const DefaultChunkSize = 1200

// A boundary is terminal punctuation followed by whitespace, Unicode spaces
// included; the punctuation stays with the sentence before it.
var sentenceBoundaryRe = regexp.MustCompile(`[.!?][\s\p{Z}]+`)

// Chunk splits text into ordered, non-empty pieces of at most maxSize
// characters. Sentences are packed greedily and joined by a single space; a
// sentence longer than maxSize is cut into fixed-size slices on its own.
func Chunk(text string, maxSize int) []string {
	if maxSize < 1 {
		maxSize = 1
	}

	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if utf8.RuneCountInString(clean) <= maxSize {
		return []string{clean}
	}

	var (
		chunks    []string
		buffer    []string
		bufferLen int
	)
	flush := func() {
		if len(buffer) > 0 {
			chunks = append(chunks, strings.Join(buffer, " "))
			buffer = buffer[:0]
			bufferLen = 0
		}
	}

	for _, sentence := range splitSentences(clean) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		sentenceLen := utf8.RuneCountInString(sentence)
		if sentenceLen > maxSize {
			flush()
			chunks = append(chunks, hardSplit(sentence, maxSize)...)
			continue
		}

		prospective := bufferLen + sentenceLen
		if len(buffer) > 0 {
			prospective++
		}
		if prospective <= maxSize {
			buffer = append(buffer, sentence)
			bufferLen = prospective
			continue
		}

		flush()
		buffer = append(buffer, sentence)
		bufferLen = sentenceLen
	}
	flush()

	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for _, loc := range sentenceBoundaryRe.FindAllStringIndex(text, -1) {
		// Keep the punctuation byte, drop the whitespace run.
		sentences = append(sentences, text[start:loc[0]+1])
		start = loc[1]
	}
	return append(sentences, text[start:])
}

func hardSplit(sentence string, size int) []string {
	runes := []rune(sentence)
	parts := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		part := string(runes[i:end])
		if strings.TrimSpace(part) == "" {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}
