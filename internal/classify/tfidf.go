package classify

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// maxVocabulary caps the fitted vector space. Terms beyond the cap are
// dropped by descending corpus frequency.
const maxVocabulary = 5000

// englishStopWords are filtered out before n-gram construction.
var englishStopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are as at be because
		been before being below between both but by can cannot could did do does doing down during each few for
		from further had has have having he her here hers herself him himself his how i if in into is it its
		itself just me more most my myself no nor not now of off on once only or other our ours ourselves out
		over own same she should so some such than that the their theirs them themselves then there these they
		this those through to too under until up very was we were what when where which while who whom why will
		with would you your yours yourself yourselves`) {
		englishStopWords[w] = true
	}
}

// tokenize lowercases text, keeps alphanumeric runs of two or more
// characters, drops stop words, and appends adjacent-pair bigrams.
func tokenize(text string) []string {
	var unigrams []string
	var sb strings.Builder

	flush := func() {
		if sb.Len() >= 2 {
			tok := sb.String()
			if !englishStopWords[tok] {
				unigrams = append(unigrams, tok)
			}
		}
		sb.Reset()
	}

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			sb.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	terms := make([]string, 0, len(unigrams)*2)
	terms = append(terms, unigrams...)
	for i := 0; i+1 < len(unigrams); i++ {
		terms = append(terms, unigrams[i]+" "+unigrams[i+1])
	}
	return terms
}

// vectorizer is a term-frequency/inverse-document-frequency vector space
// fitted once over a fixed document set.
type vectorizer struct {
	vocab map[string]int
	idf   []float64
}

// fitVectorizer builds the vocabulary and IDF weights from docs.
func fitVectorizer(docs []string) *vectorizer {
	df := map[string]int{}    // number of docs containing the term
	total := map[string]int{} // corpus-wide term count, for the cap ordering

	for _, doc := range docs {
		counts := map[string]int{}
		for _, t := range tokenize(doc) {
			counts[t]++
		}
		for t, c := range counts {
			df[t]++
			total[t] += c
		}
	}

	terms := make([]string, 0, len(df))
	for t := range df {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if total[terms[i]] != total[terms[j]] {
			return total[terms[i]] > total[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxVocabulary {
		terms = terms[:maxVocabulary]
	}

	v := &vectorizer{vocab: make(map[string]int, len(terms)), idf: make([]float64, len(terms))}
	n := float64(len(docs))
	for i, t := range terms {
		v.vocab[t] = i
		// Smoothed IDF so that terms present in every document still carry
		// a non-zero weight.
		v.idf[i] = math.Log((1+n)/(1+float64(df[t]))) + 1
	}
	return v
}

// transform projects text into the fitted space as an L2-normalized TF-IDF
// vector. Terms outside the vocabulary are ignored.
func (v *vectorizer) transform(text string) []float64 {
	vec := make([]float64, len(v.idf))
	for _, t := range tokenize(text) {
		if i, ok := v.vocab[t]; ok {
			vec[i] += v.idf[i]
		}
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// cosine returns the cosine similarity of two vectors from the same space.
// Inputs are already L2-normalized, so this is a plain dot product.
func cosine(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}
