// Package analyzer ranks log lines from failed jobs so the interesting ones
// surface first. Common errors are easy to find by eyeballing a couple of
// failed jobs; the rare, information-dense lines are the ones worth showing.
package analyzer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	rePrefix      = regexp.MustCompile(`^.*? - (STDOUT|STDERR|EXECUTOR):\s*`)
	reSpace       = regexp.MustCompile(`\s+`)
	reURITruncate = regexp.MustCompile(`^.*https?://[^?]+\?`)
)

// JobOutput is one failed job's log output.
type JobOutput struct {
	ID     string
	Output string
}

// RankedLine is one member line of a group, with its own score.
type RankedLine struct {
	Score float64
	Line  string
}

// Group is a cluster of lines that appear in exactly the same set of jobs.
// Line and Score come from the highest-scoring member.
type Group struct {
	Score       float64
	Line        string
	CommonLines []RankedLine
	JobIDs      []string
}

type lineData struct {
	cleanLine string
	entropy   float64
	jobIDs    []string
	order     int
}

// RankErrors scores and clusters the output lines of the given jobs.
//
// Lines are deduped per job by their compare form (URL query tails cut off),
// scored by log-damped trigram entropy weighted with how many jobs share
// them, then grouped by identical job-id sets and sorted by descending score.
func RankErrors(jobs []JobOutput) []Group {
	outputs := make([]string, len(jobs))
	for i, job := range jobs {
		outputs[i] = job.Output
	}
	triProbs := trigramProb(outputs)

	lines := make(map[string]*lineData)
	var orderedKeys []string
	for _, job := range jobs {
		for _, pair := range uniqueLines(job.Output) {
			if data, ok := lines[pair.compare]; ok {
				data.jobIDs = append(data.jobIDs, job.ID)
				continue
			}
			lines[pair.compare] = &lineData{
				cleanLine: pair.clean,
				entropy:   trigramEntropy(pair.compare, triProbs),
				jobIDs:    []string{job.ID},
				order:     len(orderedKeys),
			}
			orderedKeys = append(orderedKeys, pair.compare)
		}
	}

	n := float64(len(lines))
	ranked := make(map[string]*Group)
	var groupOrder []string
	for _, key := range orderedKeys {
		data := lines[key]

		// Log the entropy so crazy lines with extremely high entropy do not
		// get ranked too high. Zero entropy is clamped to 1 so the log is
		// defined (and zero).
		entropy := data.entropy
		if entropy == 0 {
			entropy = 1
		}
		score := math.Log(entropy) * float64(len(data.jobIDs)) / n

		sorted := append([]string(nil), data.jobIDs...)
		sort.Strings(sorted)
		groupKey := strings.Join(sorted, " ")

		if group, ok := ranked[groupKey]; ok {
			group.CommonLines = append(group.CommonLines,
				RankedLine{Score: score, Line: data.cleanLine})
			if score > group.Score {
				group.Score = score
				group.Line = data.cleanLine
			}
			continue
		}
		ranked[groupKey] = &Group{
			Score:       score,
			Line:        data.cleanLine,
			CommonLines: []RankedLine{{Score: score, Line: data.cleanLine}},
			JobIDs:      data.jobIDs,
		}
		groupOrder = append(groupOrder, groupKey)
	}

	groups := make([]Group, 0, len(ranked))
	for _, key := range groupOrder {
		group := ranked[key]
		sort.SliceStable(group.CommonLines, func(i, j int) bool {
			return group.CommonLines[i].Score > group.CommonLines[j].Score
		})
		groups = append(groups, *group)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Score > groups[j].Score
	})
	return groups
}

type linePair struct {
	compare string
	clean   string
}

// cleanLine strips the timestamp/stream prefix and normalizes whitespace.
func cleanLine(line string) string {
	line = rePrefix.ReplaceAllString(line, "")
	line = strings.TrimSpace(line)
	return reSpace.ReplaceAllString(line, " ")
}

// compareLine truncates a line at a URL query marker, so transient URL tails
// do not fragment otherwise-identical error reports.
func compareLine(line string) string {
	if match := reURITruncate.FindString(line); match != "" {
		return match
	}
	return line
}

// uniqueLines yields (compare, clean) pairs from a job's output, deduped by
// the compare form.
func uniqueLines(output string) []linePair {
	if output == "" {
		return nil
	}
	seen := make(map[string]bool)
	var pairs []linePair
	for _, raw := range strings.Split(output, "\n") {
		clean := cleanLine(raw)
		if clean == "" {
			continue
		}
		compare := compareLine(clean)
		if seen[compare] {
			continue
		}
		seen[compare] = true
		pairs = append(pairs, linePair{compare: compare, clean: clean})
	}
	return pairs
}

// trigrams returns the length-3 rune substrings of a string, in order and
// with repetition.
func trigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 3 {
		return nil
	}
	result := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		result = append(result, string(runes[i:i+3]))
	}
	return result
}

// outputTrigrams returns the unique trigrams of a job's output.
func outputTrigrams(output string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, pair := range uniqueLines(output) {
		for _, tri := range trigrams(pair.compare) {
			if seen[tri] {
				continue
			}
			seen[tri] = true
			result = append(result, tri)
		}
	}
	return result
}

// trigramProb maps each trigram to the fraction of jobs whose output
// contains it.
func trigramProb(outputs []string) map[string]float64 {
	if len(outputs) == 0 {
		return map[string]float64{}
	}
	counts := make(map[string]int)
	for _, output := range outputs {
		for _, tri := range outputTrigrams(output) {
			counts[tri]++
		}
	}
	n := float64(len(outputs))
	probs := make(map[string]float64, len(counts))
	for tri, count := range counts {
		probs[tri] = float64(count) / n
	}
	return probs
}

// trigramEntropy is the Shannon entropy of a line over the corpus trigram
// probabilities, counting trigrams in order with repetition.
func trigramEntropy(line string, triProbs map[string]float64) float64 {
	var entropy float64
	for _, tri := range trigrams(line) {
		p := triProbs[tri]
		if p <= 0 {
			continue
		}
		entropy -= p * math.Log2(p)
	}
	return entropy
}
