package comments

import (
	"errors"
	"strconv"
	"strings"
)

type TargetKind string

const (
	KindSection        TargetKind = "section"
	KindCourse         TargetKind = "course"
	KindTeacher        TargetKind = "teacher"
	KindSectionTeacher TargetKind = "section-teacher"
	KindHomework       TargetKind = "homework"
)

var ErrInvalidTarget = errors.New("invalid target")

// Target identifies the single catalog entity a comment or description is
// attached to. The set of implementations is closed.
type Target interface {
	Kind() TargetKind
	// Column is the comments/descriptions column holding the target key.
	Column() string
	// Key is the value stored in Column.
	Key() any
	String() string
	isTarget()
}

type SectionTarget struct{ SectionID int64 }
type CourseTarget struct{ CourseID int64 }
type TeacherTarget struct{ TeacherID int64 }
type SectionTeacherTarget struct{ SectionTeacherID int64 }
type HomeworkTarget struct{ HomeworkID string }

func (SectionTarget) Kind() TargetKind        { return KindSection }
func (CourseTarget) Kind() TargetKind         { return KindCourse }
func (TeacherTarget) Kind() TargetKind        { return KindTeacher }
func (SectionTeacherTarget) Kind() TargetKind { return KindSectionTeacher }
func (HomeworkTarget) Kind() TargetKind       { return KindHomework }

func (SectionTarget) Column() string        { return "section_id" }
func (CourseTarget) Column() string         { return "course_id" }
func (TeacherTarget) Column() string        { return "teacher_id" }
func (SectionTeacherTarget) Column() string { return "section_teacher_id" }
func (HomeworkTarget) Column() string       { return "homework_id" }

func (t SectionTarget) Key() any        { return t.SectionID }
func (t CourseTarget) Key() any         { return t.CourseID }
func (t TeacherTarget) Key() any        { return t.TeacherID }
func (t SectionTeacherTarget) Key() any { return t.SectionTeacherID }
func (t HomeworkTarget) Key() any       { return t.HomeworkID }

func (t SectionTarget) String() string { return "section:" + strconv.FormatInt(t.SectionID, 10) }
func (t CourseTarget) String() string  { return "course:" + strconv.FormatInt(t.CourseID, 10) }
func (t TeacherTarget) String() string { return "teacher:" + strconv.FormatInt(t.TeacherID, 10) }
func (t SectionTeacherTarget) String() string {
	return "section-teacher:" + strconv.FormatInt(t.SectionTeacherID, 10)
}
func (t HomeworkTarget) String() string { return "homework:" + t.HomeworkID }

func (SectionTarget) isTarget()        {}
func (CourseTarget) isTarget()         {}
func (TeacherTarget) isTarget()        {}
func (SectionTeacherTarget) isTarget() {}
func (HomeworkTarget) isTarget()       {}

// SectionTeacherPair is a section-teacher target addressed by its two catalog
// ids before the pair row has been resolved.
type SectionTeacherPair struct {
	SectionID int64
	TeacherID int64
}

// TargetRef is the parsed form of a request's target parameters. Exactly one
// of Target and Pair is set.
type TargetRef struct {
	Target Target
	Pair   *SectionTeacherPair
}

// TargetQuery carries the raw target parameters of a request.
type TargetQuery struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	SectionID  string `json:"sectionId"`
	TeacherID  string `json:"teacherId"`
}

// ParseTarget validates raw target parameters.
func ParseTarget(q TargetQuery) (TargetRef, error) {
	kind := TargetKind(strings.TrimSpace(q.TargetType))
	targetID := strings.TrimSpace(q.TargetID)

	if kind == KindHomework {
		if targetID == "" {
			return TargetRef{}, ErrInvalidTarget
		}
		return TargetRef{Target: HomeworkTarget{HomeworkID: targetID}}, nil
	}

	if kind == KindSectionTeacher && targetID == "" {
		sectionID, err := parsePositiveID(q.SectionID)
		if err != nil {
			return TargetRef{}, err
		}
		teacherID, err := parsePositiveID(q.TeacherID)
		if err != nil {
			return TargetRef{}, err
		}
		return TargetRef{Pair: &SectionTeacherPair{SectionID: sectionID, TeacherID: teacherID}}, nil
	}

	id, err := parsePositiveID(targetID)
	if err != nil {
		return TargetRef{}, err
	}
	switch kind {
	case KindSection:
		return TargetRef{Target: SectionTarget{SectionID: id}}, nil
	case KindCourse:
		return TargetRef{Target: CourseTarget{CourseID: id}}, nil
	case KindTeacher:
		return TargetRef{Target: TeacherTarget{TeacherID: id}}, nil
	case KindSectionTeacher:
		return TargetRef{Target: SectionTeacherTarget{SectionTeacherID: id}}, nil
	default:
		return TargetRef{}, ErrInvalidTarget
	}
}

// TargetFromColumns rebuilds a Target from a row's nullable target columns.
func TargetFromColumns(sectionID, courseID, teacherID, sectionTeacherID *int64, homeworkID *string) (Target, error) {
	switch {
	case sectionID != nil:
		return SectionTarget{SectionID: *sectionID}, nil
	case courseID != nil:
		return CourseTarget{CourseID: *courseID}, nil
	case teacherID != nil:
		return TeacherTarget{TeacherID: *teacherID}, nil
	case sectionTeacherID != nil:
		return SectionTeacherTarget{SectionTeacherID: *sectionTeacherID}, nil
	case homeworkID != nil:
		return HomeworkTarget{HomeworkID: *homeworkID}, nil
	default:
		return nil, ErrInvalidTarget
	}
}

// SameTarget reports whether a and b address the same entity.
func SameTarget(a, b Target) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Kind() == b.Kind() && a.Key() == b.Key()
}

func parsePositiveID(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, ErrInvalidTarget
	}
	return value, nil
}
