package agent

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"webrag/config"
	"webrag/types"
)

// RetrievedContext is one snippet handed to answer synthesis.
type RetrievedContext struct {
	Text       string
	Similarity float64
	Source     string
}

// Similarity converts a cosine distance into a score clamped at zero.
func Similarity(distance float64) float64 {
	return max(0, 1-distance)
}

// selectContexts walks the candidates in search order. The primary list keeps
// candidates above the similarity floor with at most MaxPerDomain per host,
// up to MaxContexts. When nothing passes, the best MaxContexts of all
// non-empty candidates are used instead.
func selectContexts(candidates []types.ChunkRetrieval, limits config.Retrieval) []RetrievedContext {
	var (
		primary  []RetrievedContext
		fallback []RetrievedContext
		perHost  = make(map[string]int)
	)

	for _, c := range candidates {
		snippet := strings.Join(strings.Fields(c.Chunk.Text), " ")
		if snippet == "" {
			continue
		}
		rc := RetrievedContext{Text: snippet, Similarity: Similarity(c.Distance), Source: c.URL}
		fallback = append(fallback, rc)

		if rc.Similarity < limits.MinSimilarity {
			continue
		}
		host := hostOf(c.URL)
		if perHost[host] >= limits.MaxPerDomain {
			continue
		}
		perHost[host]++
		primary = append(primary, rc)
		if len(primary) >= limits.MaxContexts {
			break
		}
	}

	if len(primary) > 0 || len(fallback) == 0 {
		return primary
	}

	sort.SliceStable(fallback, func(i, j int) bool {
		return fallback[i].Similarity > fallback[j].Similarity
	})
	if len(fallback) > limits.MaxContexts {
		fallback = fallback[:limits.MaxContexts]
	}
	return fallback
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

func buildPrompt(question string, contexts []RetrievedContext) string {
	blocks := make([]string, len(contexts))
	for i, c := range contexts {
		blocks[i] = fmt.Sprintf("Context %d | similarity=%.3f | source=%s\n%s", i+1, c.Similarity, c.Source, c.Text)
	}

	return "You are a retrieval-augmented assistant. Use only the provided contexts to answer the user question. " +
		"Cite the context number when relevant. If the answer cannot be derived from the contexts, state that " +
		"the information is not available.\n\n" +
		"Question: " + question + "\n\n" +
		"Contexts:\n" + strings.Join(blocks, "\n\n") + "\n\n" +
		"Answer:"
}
