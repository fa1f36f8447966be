// Package analyzer computes conversation-length statistics over sampled
// chat records.
package analyzer

import (
	"errors"
	"math"
	"sort"

	"github.com/blackwell-systems/chatlens/internal/chats"
)

// ErrInsufficientData is returned when statistics are requested over an
// empty sample.
var ErrInsufficientData = errors.New("insufficient data: sample is empty")

// longChatThreshold is the message count above which a conversation counts
// as long in the per-category breakdown.
const longChatThreshold = 15

// ReportedPercentiles are the percentiles included in LengthStats.
var ReportedPercentiles = []int{25, 50, 75, 90, 95}

// LengthStats summarizes the message counts of a sample.
type LengthStats struct {
	TotalChats        int     `json:"total_chats"`
	ChatsWithMessages int     `json:"chats_with_messages"`
	EmptyChats        int     `json:"empty_chats"`
	AvgMessageCount   float64 `json:"avg_message_count"`
	AvgNonEmptyChats  float64 `json:"avg_non_empty_chats"`
	MedianMessages    float64 `json:"median_messages"`
	StdDeviation      float64 `json:"std_deviation"`
	MinMessages       int     `json:"min_messages"`
	MaxMessages       int     `json:"max_messages"`

	Percentile25 int `json:"25th_percentile"`
	Percentile50 int `json:"50th_percentile"`
	Percentile75 int `json:"75th_percentile"`
	Percentile90 int `json:"90th_percentile"`
	Percentile95 int `json:"95th_percentile"`

	// Buckets: 0, 1-2, 3-5, 6-10, 11-20, >20. Counts at or below zero
	// fall in the empty bucket so the buckets always sum to TotalChats.
	VeryShortChats int `json:"very_short_chats"`
	ShortChats     int `json:"short_chats"`
	MediumChats    int `json:"medium_chats"`
	LongChats      int `json:"long_chats"`
	VeryLongChats  int `json:"very_long_chats"`

	EmptyPercentage     float64 `json:"empty_percentage"`
	VeryShortPercentage float64 `json:"very_short_percentage"`
	ShortPercentage     float64 `json:"short_percentage"`
	MediumPercentage    float64 `json:"medium_percentage"`
	LongPercentage      float64 `json:"long_percentage"`
	VeryLongPercentage  float64 `json:"very_long_percentage"`
}

// Percentile returns the stored value for p, or false if p is not one of
// the reported percentiles.
func (s LengthStats) Percentile(p int) (int, bool) {
	switch p {
	case 25:
		return s.Percentile25, true
	case 50:
		return s.Percentile50, true
	case 75:
		return s.Percentile75, true
	case 90:
		return s.Percentile90, true
	case 95:
		return s.Percentile95, true
	}
	return 0, false
}

// CategoryStats summarizes the conversations of one chat type.
type CategoryStats struct {
	Count        int     `json:"count"`
	AvgLength    float64 `json:"avg_length"`
	MedianLength float64 `json:"median_length"`
	EmptyChats   int     `json:"empty_chats"`
	LongChats    int     `json:"long_chats"`
}

// DistributionRow is the frequency of one distinct message count.
type DistributionRow struct {
	MessageCount         int     `json:"message_count"`
	Frequency            int     `json:"frequency"`
	Percentage           float64 `json:"percentage"`
	CumulativePercentage float64 `json:"cumulative_percentage"`
}

// Counts returns the message count of every record, in order.
func Counts(records []chats.Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = chats.MessageCount(r)
	}
	return out
}

// Stats computes LengthStats over records. It does not modify its input.
func Stats(records []chats.Record) (LengthStats, error) {
	if len(records) == 0 {
		return LengthStats{}, ErrInsufficientData
	}

	sorted := Counts(records)
	sort.Ints(sorted)
	n := len(sorted)

	s := LengthStats{
		TotalChats:  n,
		MinMessages: sorted[0],
		MaxMessages: sorted[n-1],
	}

	var sum, nonEmptySum float64
	for _, c := range sorted {
		sum += float64(c)
		switch {
		case c <= 0:
			s.EmptyChats++
		case c <= 2:
			s.VeryShortChats++
		case c <= 5:
			s.ShortChats++
		case c <= 10:
			s.MediumChats++
		case c <= 20:
			s.LongChats++
		default:
			s.VeryLongChats++
		}
		if c > 0 {
			s.ChatsWithMessages++
			nonEmptySum += float64(c)
		}
	}

	s.AvgMessageCount = sum / float64(n)
	if s.ChatsWithMessages > 0 {
		s.AvgNonEmptyChats = nonEmptySum / float64(s.ChatsWithMessages)
	}
	s.MedianMessages = median(sorted)
	s.StdDeviation = sampleStdDev(sorted, s.AvgMessageCount)

	s.Percentile25 = percentile(sorted, 25)
	s.Percentile50 = percentile(sorted, 50)
	s.Percentile75 = percentile(sorted, 75)
	s.Percentile90 = percentile(sorted, 90)
	s.Percentile95 = percentile(sorted, 95)

	total := float64(n)
	s.EmptyPercentage = float64(s.EmptyChats) / total * 100
	s.VeryShortPercentage = float64(s.VeryShortChats) / total * 100
	s.ShortPercentage = float64(s.ShortChats) / total * 100
	s.MediumPercentage = float64(s.MediumChats) / total * 100
	s.LongPercentage = float64(s.LongChats) / total * 100
	s.VeryLongPercentage = float64(s.VeryLongChats) / total * 100

	return s, nil
}

// ByCategory groups records by chat type. Records without a type are
// skipped.
func ByCategory(records []chats.Record) map[string]CategoryStats {
	groups := make(map[string][]int)
	for _, r := range records {
		if r.Category == nil {
			continue
		}
		groups[*r.Category] = append(groups[*r.Category], chats.MessageCount(r))
	}

	out := make(map[string]CategoryStats, len(groups))
	for name, counts := range groups {
		sort.Ints(counts)
		cs := CategoryStats{Count: len(counts)}
		var sum float64
		for _, c := range counts {
			sum += float64(c)
			if c <= 0 {
				cs.EmptyChats++
			}
			if c > longChatThreshold {
				cs.LongChats++
			}
		}
		cs.AvgLength = sum / float64(len(counts))
		cs.MedianLength = median(counts)
		out[name] = cs
	}
	return out
}

// FullDistribution returns one row per distinct message count, ascending.
// Percentages are rounded to two decimals; the cumulative column is the
// running sum of the unrounded percentages, rounded per row.
func FullDistribution(records []chats.Record) ([]DistributionRow, error) {
	if len(records) == 0 {
		return nil, ErrInsufficientData
	}

	freq := make(map[int]int)
	for _, c := range Counts(records) {
		freq[c]++
	}
	keys := make([]int, 0, len(freq))
	for k := range freq {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	total := float64(len(records))
	rows := make([]DistributionRow, 0, len(keys))
	var cumulative float64
	for _, k := range keys {
		pct := float64(freq[k]) / total * 100
		cumulative += pct
		rows = append(rows, DistributionRow{
			MessageCount:         k,
			Frequency:            freq[k],
			Percentage:           round2(pct),
			CumulativePercentage: round2(cumulative),
		})
	}
	return rows, nil
}

// median of an ascending, non-empty slice.
func median(sorted []int) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// sampleStdDev uses the n-1 denominator; a single value has zero spread.
func sampleStdDev(vals []int, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var ss float64
	for _, v := range vals {
		d := float64(v) - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// percentile linearly interpolates between closest ranks over an ascending
// slice and truncates the result to an integer.
func percentile(sorted []int, p int) int {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := float64(p) / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	v := float64(sorted[lo]) + frac*float64(sorted[hi]-sorted[lo])
	return int(v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
