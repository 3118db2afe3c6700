package runner

import "fmt"

const (
	StageList     Stage = "list"
	StageMeta     Stage = "meta"
	StageL10n     Stage = "l10n"
	StageReadOnly Stage = "readOnly"
	StageLive     Stage = "live"
	StageSummary  Stage = "summary"
)

// Stage names one part of the pipeline a run may include.
type Stage string

type StageSet map[Stage]bool

func AllStages() StageSet {
	return StageSet{
		StageList:     true,
		StageMeta:     true,
		StageL10n:     true,
		StageReadOnly: true,
		StageLive:     true,
		StageSummary:  true,
	}
}

// ParseStages builds a stage set from flag values; an empty list selects
// every stage.
func ParseStages(names []string) (StageSet, error) {
	if len(names) == 0 {
		return AllStages(), nil
	}

	all := AllStages()
	set := make(StageSet, len(names))
	for _, name := range names {
		stage := Stage(name)
		if !all[stage] {
			return nil, fmt.Errorf("unknown stage: %q", name)
		}
		set[stage] = true
	}

	return set, nil
}

func (s StageSet) Has(stage Stage) bool {
	return s[stage]
}

// HasContent reports whether the set includes any stage that changes the
// archive, as opposed to listing or reporting only.
func (s StageSet) HasContent() bool {
	return s[StageMeta] || s[StageL10n] || s[StageReadOnly] || s[StageLive]
}
