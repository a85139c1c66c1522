package models

// Facts are candidate slot values proposed by the fact extractor or carried as
// unconfirmed prefill hints. None of them is authoritative until confirmed.
type Facts struct {
	LearnerName    string `json:"learner_name,omitempty"`
	SchoolLevel    string `json:"school_level,omitempty"`
	Subject        string `json:"subject,omitempty"`
	Topic          string `json:"topic,omitempty"` // specific variant of the subject, e.g. "statistiek"
	Goals          string `json:"goals,omitempty"`
	PreferredTimes string `json:"preferred_times,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Toolset        string `json:"toolset,omitempty"`
	ForWho         string `json:"for_who,omitempty"`
	Relationship   string `json:"relationship,omitempty"`
	IsAdult        *bool  `json:"is_adult,omitempty"`
}

// IsEmpty reports whether no candidate value is present.
func (f Facts) IsEmpty() bool {
	return f.fields() == nil && f.IsAdult == nil
}

// Sufficient reports whether enough was extracted to ask for confirmation
// instead of running the slot sequence: a subject plus either a school level
// or an explicit adult/self declaration.
func (f Facts) Sufficient() bool {
	if f.Subject == "" {
		return false
	}
	return f.SchoolLevel != "" || (f.IsAdult != nil && *f.IsAdult) || f.ForWho == "self"
}

// Merge returns f overlaid with every non-empty value from other.
func (f Facts) Merge(other Facts) Facts {
	out := f
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.LearnerName, other.LearnerName)
	set(&out.SchoolLevel, other.SchoolLevel)
	set(&out.Subject, other.Subject)
	set(&out.Topic, other.Topic)
	set(&out.Goals, other.Goals)
	set(&out.PreferredTimes, other.PreferredTimes)
	set(&out.Mode, other.Mode)
	set(&out.Toolset, other.Toolset)
	set(&out.ForWho, other.ForWho)
	set(&out.Relationship, other.Relationship)
	if other.IsAdult != nil {
		v := *other.IsAdult
		out.IsAdult = &v
	}
	return out
}

// ChangedFields lists the field names whose value differs between f and other.
func (f Facts) ChangedFields(other Facts) []string {
	var changed []string
	a, b := f.fields(), other.fields()
	for _, name := range factFieldOrder {
		if a[name] != b[name] {
			changed = append(changed, name)
		}
	}
	if formatOptBool(f.IsAdult) != formatOptBool(other.IsAdult) {
		changed = append(changed, KeyIsAdult)
	}
	return changed
}

var factFieldOrder = []string{
	KeyLearnerName, KeySchoolLevel, KeySubject, KeyTopic, KeyGoals,
	KeyPreferredTimes, KeyMode, KeyToolset, KeyForWho, KeyRelationship,
}

func (f Facts) fields() map[string]string {
	all := map[string]string{
		KeyLearnerName:    f.LearnerName,
		KeySchoolLevel:    f.SchoolLevel,
		KeySubject:        f.Subject,
		KeyTopic:          f.Topic,
		KeyGoals:          f.Goals,
		KeyPreferredTimes: f.PreferredTimes,
		KeyMode:           f.Mode,
		KeyToolset:        f.Toolset,
		KeyForWho:         f.ForWho,
		KeyRelationship:   f.Relationship,
	}
	for k, v := range all {
		if v == "" {
			delete(all, k)
		}
	}
	if len(all) == 0 {
		return nil
	}
	return all
}
