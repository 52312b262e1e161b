package generator

import (
	"math/rand/v2"
	"strings"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"
)

// referenceTokenSizes are the token sizes pre-generated per model. Any
// requested size is satisfied by greedily concatenating the largest fitting
// reference strings, then trimming words until under the target.
var referenceTokenSizes = []int{2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 4000}

const referenceValuesPerSize = 5

// loremReference holds pre-generated filler text for one model, indexed by
// token size largest-first.
type loremReference struct {
	sizes  []int // descending
	values map[int][]string
}

func (r *loremReference) valueForSize(size int) (string, int, bool) {
	for _, tokenSize := range r.sizes {
		if tokenSize <= size {
			values := r.values[tokenSize]
			return values[rand.IntN(len(values))], tokenSize, true
		}
	}
	return "", 0, false
}

// FillerCache lazily generates and caches reference filler text per model,
// guarding concurrent first use of the same model with a single-initialization
// gate so the reference set is only generated once.
type FillerCache struct {
	cache *otter.Cache[string, *loremReference]
	group singleflight.Group
}

// NewFillerCache returns an empty FillerCache.
func NewFillerCache() *FillerCache {
	return &FillerCache{
		cache: otter.Must(&otter.Options[string, *loremReference]{MaximumSize: 256}),
	}
}

// Generate returns up to maxTokens of filler text for the given model,
// populating that model's reference set on first use.
func (c *FillerCache) Generate(model string, maxTokens int) string {
	ref := c.referenceFor(model)

	var b strings.Builder
	target := maxTokens
	for target > 0 {
		value, size, ok := ref.valueForSize(target)
		if !ok {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(value)
		target -= size
	}

	text := b.String()
	for EstimateTokens(text) > maxTokens {
		lastSpace := strings.LastIndexByte(text, ' ')
		if lastSpace < 0 {
			return ""
		}
		text = text[:lastSpace]
	}
	return text
}

func (c *FillerCache) referenceFor(model string) *loremReference {
	if ref, ok := c.cache.GetIfPresent(model); ok {
		return ref
	}

	result, _, _ := c.group.Do(model, func() (any, error) {
		if ref, ok := c.cache.GetIfPresent(model); ok {
			return ref, nil
		}
		ref := generateReferenceSet(referenceTokenSizes)
		c.cache.Set(model, ref)
		return ref, nil
	})
	return result.(*loremReference)
}

func generateReferenceSet(tokenSizes []int) *loremReference {
	values := make(map[int][]string, len(tokenSizes))
	sizes := append([]int(nil), tokenSizes...)
	for i, j := 0, len(sizes)-1; i < j; i, j = i+1, j-1 {
		sizes[i], sizes[j] = sizes[j], sizes[i]
	}

	for _, maxTokens := range tokenSizes {
		generated := make([]string, referenceValuesPerSize)
		for i := range generated {
			generated[i] = rawGenerateLoremText(maxTokens)
		}
		values[maxTokens] = generated
	}
	return &loremReference{sizes: sizes, values: values}
}

// loremFactor returns the sliding word-count factor used to estimate how
// many words approximate maxTokens tokens, tuned empirically for filler
// text's average word length.
func loremFactor(maxTokens int) float64 {
	switch {
	case maxTokens > 500:
		return 0.72
	case maxTokens > 100:
		return 0.6
	default:
		return 0.5
	}
}

func rawGenerateLoremText(maxTokens int) string {
	target := maxTokens
	var b strings.Builder

	for target > 5 {
		factor := loremFactor(target)
		wordCount := int(factor * float64(target))
		if wordCount < 1 {
			break
		}
		text := loremWords(wordCount)
		used := EstimateTokens(text)
		if used > target {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		target -= used
		target -= 2 // allow for the joining space and estimation error
	}

	full := b.String()
	for {
		candidate := full
		if candidate != "" {
			candidate += " "
		}
		candidate += loremWords(1)
		if EstimateTokens(candidate) > maxTokens {
			break
		}
		full = candidate
	}
	return full
}

func loremWords(count int) string {
	words := make([]string, count)
	for i := range words {
		words[i] = loremWordList[rand.IntN(len(loremWordList))]
	}
	return strings.Join(words, " ")
}

var loremWordList = []string{
	"ullamco", "labore", "cupidatat", "ipsum", "elit,", "esse", "officia", "aliquip",
	"do", "magna", "duis", "consequat", "exercitation", "occaecat", "ea", "laboris",
	"sit", "reprehenderit", "velit", "dolor", "enim", "irure", "anim", "nisi",
	"amet,", "culpa", "commodo", "consectetur", "eiusmod", "minim", "mollit", "fugiat",
	"cillum", "non", "deserunt", "veniam,", "est", "eu", "qui", "tempor",
	"adipiscing", "aliqua", "et", "nostrud", "ex", "incididunt", "aute", "nulla",
	"in", "proident,", "sunt", "id", "lorem", "pariatur", "excepteur", "ut",
	"ad", "sed", "sint", "laborum", "voluptate", "dolore", "quis",
}
