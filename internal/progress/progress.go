// Package progress tracks the learner's completed sessions and level.
package progress

import (
	"fmt"
	"strings"
	"time"
)

type Level string

const (
	LevelBeginner     Level = "Beginner"
	LevelIntermediate Level = "Intermediate"
	LevelAdvanced     Level = "Advanced"
)

// DateLayout is the format of LastLessonDate.
const DateLayout = "2006-01-02"

// Progress is stored as JSON under a single key.
type Progress struct {
	SessionsCompleted int      `json:"sessionsCompleted"`
	CurrentLevel      Level    `json:"currentLevel"`
	LastLessonDate    *string  `json:"lastLessonDate"`
	MasteredTopics    []string `json:"masteredTopics"`
}

func New() Progress {
	return Progress{CurrentLevel: LevelBeginner, MasteredTopics: []string{}}
}

// LevelFor returns the level earned after count completed sessions.
func LevelFor(count int) Level {
	switch {
	case count > 20:
		return LevelAdvanced
	case count > 5:
		return LevelIntermediate
	default:
		return LevelBeginner
	}
}

// Commit records one completed session.
func Commit(p Progress, now time.Time) Progress {
	out := p
	out.SessionsCompleted = p.SessionsCompleted + 1
	out.CurrentLevel = LevelFor(out.SessionsCompleted)
	date := now.Format(DateLayout)
	out.LastLessonDate = &date
	out.MasteredTopics = append([]string{}, p.MasteredTopics...)
	return out
}

// Normalize fills defaults on data loaded from storage.
func Normalize(p Progress) Progress {
	if p.SessionsCompleted < 0 {
		p.SessionsCompleted = 0
	}
	switch p.CurrentLevel {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
	default:
		p.CurrentLevel = LevelFor(p.SessionsCompleted)
	}
	if p.MasteredTopics == nil {
		p.MasteredTopics = []string{}
	}
	return p
}

// Persona configures the tutor's system instruction.
type Persona struct {
	TargetLanguage      string
	InstructionLanguage string
}

// Instruction builds the tutor's system instruction for the next lesson.
// recent holds the last few learner utterances, oldest first.
func Instruction(p Progress, persona Persona, recent []string) string {
	target := strings.TrimSpace(persona.TargetLanguage)
	if target == "" {
		target = "French"
	}
	native := strings.TrimSpace(persona.InstructionLanguage)
	if native == "" {
		native = "English"
	}
	last := "this is the first lesson"
	if p.LastLessonDate != nil && *p.LastLessonDate != "" {
		last = *p.LastLessonDate
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a dedicated, charismatic %s tutor.\n\n", target)
	b.WriteString("LEARNER PROFILE:\n")
	fmt.Fprintf(&b, "- Current level: %s\n", p.CurrentLevel)
	fmt.Fprintf(&b, "- Sessions completed: %d\n", p.SessionsCompleted)
	fmt.Fprintf(&b, "- Last lesson: %s\n", last)
	if len(p.MasteredTopics) > 0 {
		fmt.Fprintf(&b, "- Mastered topics: %s\n", strings.Join(p.MasteredTopics, ", "))
	}
	b.WriteString("\nSESSION GOAL:\n")
	fmt.Fprintf(&b, "Open the lesson IMMEDIATELY by introducing yourself and saying this is lesson number %d, focused on practical conversation. Keep the conversation dynamic.\n", p.SessionsCompleted+1)
	b.WriteString("\nLESSON FLOW:\n")
	fmt.Fprintf(&b, "1. Greet the learner with a short %s sentence.\n", target)
	fmt.Fprintf(&b, "2. Translate it into %s.\n", native)
	fmt.Fprintf(&b, "3. Ask the learner to repeat it in %s.\n", target)
	b.WriteString("4. Listen, assess pronunciation kindly, and give concrete phonetic tips.\n")
	b.WriteString("5. Move to harder topics when the learner is doing well.\n")
	if len(recent) > 0 {
		b.WriteString("\nRECENT LEARNER UTTERANCES:\n")
		for _, r := range recent {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	fmt.Fprintf(&b, "\nAlways use %s for instructions and feedback, and %s for the teaching content.", native, target)
	return b.String()
}
