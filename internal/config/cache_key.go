package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey holds the JTI of the student's single active login.
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// ExamPayloadKey holds the student-facing exam JSON (no answer keys).
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAnswerKey is a hash of question ID to its scoring key JSON.
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// AttemptMetaKey is a hash with the attempt's exam, student, status and deadline.
func (r *CacheKeyStruct) AttemptMetaKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:meta", attemptID)
}

// AttemptAnswersKey is a hash of question ID to the latest saved answer.
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptProctorKey is a hash of proctoring event type to its count.
func (r *CacheKeyStruct) AttemptProctorKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:proctor", attemptID)
}

// AttemptPresenceKey expires shortly after the last heartbeat.
func (r *CacheKeyStruct) AttemptPresenceKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:presence", attemptID)
}

var CacheKey = NewCacheKeyStruct()
