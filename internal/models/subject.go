package models

// Grade is a single mark recorded for a subject.
type Grade struct {
	ID     string  `json:"id"`
	Value  float64 `json:"value" validate:"gte=0,lte=100"`
	Weight float64 `json:"weight" validate:"gte=0"`
	Kind   string  `json:"kind,omitempty" validate:"omitempty,max=64"`
	Date   string  `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note   string  `json:"note,omitempty" validate:"omitempty,max=500"`
}

// Subject is a user's subject together with its grades.
type Subject struct {
	ID      string  `json:"id"`
	Name    string  `json:"name" validate:"required,max=128"`
	Teacher string  `json:"teacher,omitempty" validate:"omitempty,max=128"`
	Weight  float64 `json:"weight" validate:"gte=0"`
	Grades  []Grade `json:"grades" validate:"dive"`
}

// SubjectList is the grade calculator resource for one user.
type SubjectList []Subject

// Clone returns a deep copy of l.
func (l SubjectList) Clone() SubjectList {
	if l == nil {
		return nil
	}
	out := make(SubjectList, len(l))
	for i, s := range l {
		grades := make([]Grade, len(s.Grades))
		copy(grades, s.Grades)
		s.Grades = grades
		out[i] = s
	}
	return out
}

// Find returns the index of the subject with id, or -1.
func (l SubjectList) Find(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}
