// Package analytics derives per-topic performance from stored answers.
// Everything here is pure and safe to call concurrently.
package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/gema-ledger-api/internal/models"
)

// Classification thresholds.
const (
	WeakThreshold   = 0.6
	StrongThreshold = 0.8
	MinAttempts     = 2
	MaxFocusAreas   = 3
	spreadThinLimit = 3
)

// Focus area priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var studyTimeByPriority = map[string]string{
	PriorityHigh:   "30-45 minutes",
	PriorityMedium: "20-30 minutes",
	PriorityLow:    "15-20 minutes",
}

var strandTips = map[string]string{
	"number":     "Practice mental arithmetic and written calculations daily to build number fluency.",
	"algebra":    "Work through equations step by step, isolating the variable and checking each manipulation.",
	"geometry":   "Sketch the shapes and label every diagram before calculating angles, areas or lengths.",
	"statistics": "Practice with real datasets: collect some numbers and compute averages, spreads and charts yourself.",
}

// NameResolver maps a topic path to a display name.
type NameResolver interface {
	DisplayName(path string) string
}

// TopicPerformance is the accumulated result for one topic path.
type TopicPerformance struct {
	TopicPath   string  `json:"topic_path"`
	Strand      string  `json:"strand"`
	Chapter     string  `json:"chapter"`
	Subtopic    string  `json:"subtopic"`
	DisplayName string  `json:"display_name"`
	Correct     int     `json:"correct"`
	Total       int     `json:"total"`
	Accuracy    float64 `json:"accuracy"`
}

// FocusArea is a prioritized study suggestion for a weak topic.
type FocusArea struct {
	TopicPath            string  `json:"topic_path"`
	DisplayName          string  `json:"display_name"`
	Priority             string  `json:"priority"`
	RecommendedStudyTime string  `json:"recommended_study_time"`
	Accuracy             float64 `json:"accuracy"`
}

// WeaknessAnalysis summarizes a student's strengths and weaknesses.
type WeaknessAnalysis struct {
	StudentID               string             `json:"student_id"`
	WeakTopics              []TopicPerformance `json:"weak_topics"`
	StrongTopics            []TopicPerformance `json:"strong_topics"`
	Topics                  []TopicPerformance `json:"topics"`
	AverageAccuracy         float64            `json:"average_accuracy"`
	TotalQuestionsAttempted int                `json:"total_questions_attempted"`
	ResponsesAnalyzed       int                `json:"responses_analyzed"`
	Recommendations         []string           `json:"recommendations"`
	FocusAreas              []FocusArea        `json:"focus_areas"`
	HasData                 bool               `json:"has_data"`
}

type counter struct {
	correct int
	total   int
}

// Empty returns the zero analysis with non-nil slices.
func Empty(studentID string) WeaknessAnalysis {
	return WeaknessAnalysis{
		StudentID:       studentID,
		WeakTopics:      []TopicPerformance{},
		StrongTopics:    []TopicPerformance{},
		Topics:          []TopicPerformance{},
		Recommendations: []string{},
		FocusAreas:      []FocusArea{},
	}
}

// Analyze aggregates topic-tagged answers across responses.
func Analyze(studentID string, responses []models.StudentResponse, names NameResolver) WeaknessAnalysis {
	analysis := Empty(studentID)
	analysis.ResponsesAnalyzed = len(responses)

	counters := map[string]*counter{}
	for _, response := range responses {
		for _, answer := range response.DecodedAnswers() {
			path := answer.Topic()
			if path == "" {
				continue
			}
			c, ok := counters[path]
			if !ok {
				c = &counter{}
				counters[path] = c
			}
			c.total++
			if answer.IsCorrect {
				c.correct++
			}
		}
	}

	if len(counters) == 0 {
		return analysis
	}

	var correctSum, totalSum int
	topics := make([]TopicPerformance, 0, len(counters))
	for path, c := range counters {
		correctSum += c.correct
		totalSum += c.total
		topics = append(topics, newTopicPerformance(path, c, names))
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].TopicPath < topics[j].TopicPath })

	for _, topic := range topics {
		if topic.Total < MinAttempts {
			continue
		}
		switch {
		case topic.Accuracy < WeakThreshold:
			analysis.WeakTopics = append(analysis.WeakTopics, topic)
		case topic.Accuracy >= StrongThreshold:
			analysis.StrongTopics = append(analysis.StrongTopics, topic)
		}
	}

	sort.SliceStable(analysis.WeakTopics, func(i, j int) bool {
		return analysis.WeakTopics[i].Accuracy < analysis.WeakTopics[j].Accuracy
	})
	sort.SliceStable(analysis.StrongTopics, func(i, j int) bool {
		return analysis.StrongTopics[i].Accuracy > analysis.StrongTopics[j].Accuracy
	})

	analysis.Topics = topics
	analysis.TotalQuestionsAttempted = totalSum
	if totalSum > 0 {
		analysis.AverageAccuracy = float64(correctSum) / float64(totalSum)
	}
	analysis.Recommendations = Recommend(analysis.WeakTopics)
	analysis.FocusAreas = FocusAreas(analysis.WeakTopics)
	analysis.HasData = true

	return analysis
}

func newTopicPerformance(path string, c *counter, names NameResolver) TopicPerformance {
	segments := strings.Split(path, "/")
	topic := TopicPerformance{
		TopicPath: path,
		Correct:   c.correct,
		Total:     c.total,
		Accuracy:  float64(c.correct) / float64(c.total),
	}
	if len(segments) > 0 {
		topic.Strand = segments[0]
	}
	if len(segments) > 1 {
		topic.Chapter = segments[1]
	}
	if len(segments) > 2 {
		topic.Subtopic = strings.Join(segments[2:], "/")
	}
	if names != nil {
		topic.DisplayName = names.DisplayName(path)
	}
	if topic.DisplayName == "" {
		topic.DisplayName = path
	}
	return topic
}

// Recommend produces the ordered recommendation list for weak topics sorted
// weakest first.
func Recommend(weak []TopicPerformance) []string {
	if len(weak) == 0 {
		return []string{"Great work! No weak topics detected. Keep practicing to maintain your strengths."}
	}

	recommendations := []string{
		fmt.Sprintf("Priority focus: %s (%s accuracy).", weak[0].DisplayName, percent(weak[0].Accuracy)),
	}
	if len(weak) > 1 {
		recommendations = append(recommendations,
			fmt.Sprintf("Secondary focus: %s (%s accuracy).", weak[1].DisplayName, percent(weak[1].Accuracy)))
	}
	if len(weak) > spreadThinLimit {
		recommendations = append(recommendations,
			fmt.Sprintf("You have %d weak topics. Work on one or two at a time so you are not spread too thin.", len(weak)))
	}

	for i := 0; i < len(weak) && i < 2; i++ {
		if tip, ok := strandTips[weak[i].Strand]; ok {
			recommendations = append(recommendations, tip)
		}
	}

	return recommendations
}

// FocusAreas prioritizes up to three of the weakest topics.
func FocusAreas(weak []TopicPerformance) []FocusArea {
	areas := make([]FocusArea, 0, MaxFocusAreas)
	for i := 0; i < len(weak) && i < MaxFocusAreas; i++ {
		priority := PriorityForAccuracy(weak[i].Accuracy)
		areas = append(areas, FocusArea{
			TopicPath:            weak[i].TopicPath,
			DisplayName:          weak[i].DisplayName,
			Priority:             priority,
			RecommendedStudyTime: studyTimeByPriority[priority],
			Accuracy:             weak[i].Accuracy,
		})
	}
	return areas
}

// PriorityForAccuracy buckets a weak topic's accuracy.
func PriorityForAccuracy(accuracy float64) string {
	switch {
	case accuracy < 0.3:
		return PriorityHigh
	case accuracy < 0.5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func percent(accuracy float64) string {
	return fmt.Sprintf("%.0f%%", accuracy*100)
}
