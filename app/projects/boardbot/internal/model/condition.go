package model

// Condition is an enumerated bot trigger.
type Condition string

const (
	ProjectUpdated            Condition = "project_updated"
	ProjectDeleted            Condition = "project_deleted"
	ProjectLabelCreated       Condition = "project_label_created"
	ProjectLabelUpdated       Condition = "project_label_updated"
	ProjectLabelDeleted       Condition = "project_label_deleted"
	ProjectColumnCreated      Condition = "project_column_created"
	ProjectColumnNameChanged  Condition = "project_column_name_changed"
	ProjectColumnDeleted      Condition = "project_column_deleted"
	ProjectWikiCreated        Condition = "project_wiki_created"
	ProjectWikiUpdated        Condition = "project_wiki_updated"
	ProjectWikiPublicity      Condition = "project_wiki_publicity_changed"
	ProjectWikiDeleted        Condition = "project_wiki_deleted"
	CardCreated               Condition = "card_created"
	CardUpdated               Condition = "card_updated"
	CardMoved                 Condition = "card_moved"
	CardLabelsUpdated         Condition = "card_labels_updated"
	CardRelationshipsUpdated  Condition = "card_relationships_updated"
	CardDeleted               Condition = "card_deleted"
	CardCommentAdded          Condition = "card_comment_added"
	CardCommentUpdated        Condition = "card_comment_updated"
	CardCommentDeleted        Condition = "card_comment_deleted"
	CardCommentReacted        Condition = "card_comment_reacted"
	CardAttachmentUploaded    Condition = "card_attachment_uploaded"
	CardAttachmentNameChanged Condition = "card_attachment_name_changed"
	CardAttachmentDeleted     Condition = "card_attachment_deleted"
	CardChecklistCreated      Condition = "card_checklist_created"
	CardChecklistTitleChanged Condition = "card_checklist_title_changed"
	CardChecklistChecked      Condition = "card_checklist_checked"
	CardChecklistUnchecked    Condition = "card_checklist_unchecked"
	CardChecklistDeleted      Condition = "card_checklist_deleted"
	CardCheckitemCreated      Condition = "card_checkitem_created"
	CardCheckitemTitleChanged Condition = "card_checkitem_title_changed"
	CardCheckitemTimerStarted Condition = "card_checkitem_timer_started"
	CardCheckitemTimerPaused  Condition = "card_checkitem_timer_paused"
	CardCheckitemTimerStopped Condition = "card_checkitem_timer_stopped"
	CardCheckitemChecked      Condition = "card_checkitem_checked"
	CardCheckitemUnchecked    Condition = "card_checkitem_unchecked"
	CardCheckitemCardified    Condition = "card_checkitem_cardified"
	CardCheckitemDeleted      Condition = "card_checkitem_deleted"
)

// ordered for the webhook schema and error messages
var allConditions = []Condition{
	ProjectUpdated, ProjectDeleted,
	ProjectLabelCreated, ProjectLabelUpdated, ProjectLabelDeleted,
	ProjectColumnCreated, ProjectColumnNameChanged, ProjectColumnDeleted,
	ProjectWikiCreated, ProjectWikiUpdated, ProjectWikiPublicity, ProjectWikiDeleted,
	CardCreated, CardUpdated, CardMoved, CardLabelsUpdated, CardRelationshipsUpdated, CardDeleted,
	CardCommentAdded, CardCommentUpdated, CardCommentDeleted, CardCommentReacted,
	CardAttachmentUploaded, CardAttachmentNameChanged, CardAttachmentDeleted,
	CardChecklistCreated, CardChecklistTitleChanged, CardChecklistChecked, CardChecklistUnchecked, CardChecklistDeleted,
	CardCheckitemCreated, CardCheckitemTitleChanged, CardCheckitemTimerStarted, CardCheckitemTimerPaused,
	CardCheckitemTimerStopped, CardCheckitemChecked, CardCheckitemUnchecked, CardCheckitemCardified, CardCheckitemDeleted,
}

// admissible conditions per scope type
var admissible = map[ScopeType]map[Condition]bool{
	ScopeProject: setOf(
		ProjectUpdated, ProjectDeleted,
		ProjectLabelCreated, ProjectLabelUpdated, ProjectLabelDeleted,
		ProjectColumnCreated, ProjectColumnNameChanged, ProjectColumnDeleted,
		ProjectWikiCreated, ProjectWikiUpdated, ProjectWikiPublicity, ProjectWikiDeleted,
		CardCreated, CardUpdated, CardMoved, CardLabelsUpdated, CardRelationshipsUpdated, CardDeleted,
	),
	ScopeProjectColumn: setOf(
		CardCreated, CardUpdated, CardMoved, CardLabelsUpdated, CardRelationshipsUpdated, CardDeleted,
	),
	ScopeCard: setOf(allConditions[indexOf(CardCommentAdded) : indexOf(CardCheckitemDeleted)+1]...),
}

func setOf(cs ...Condition) map[Condition]bool {
	m := make(map[Condition]bool, len(cs))
	for _, c := range cs {
		m[c] = true
	}
	return m
}

func indexOf(c Condition) int {
	for i, v := range allConditions {
		if v == c {
			return i
		}
	}
	panic("unknown condition " + string(c))
}

func AllConditions() []Condition { return append([]Condition(nil), allConditions...) }

func (c Condition) Valid() bool {
	for _, v := range allConditions {
		if v == c {
			return true
		}
	}
	return false
}

// AdmissibleFor reports whether a bot scoped to st may subscribe to c.
func (c Condition) AdmissibleFor(st ScopeType) bool { return admissible[st][c] }

// ScopeTypes lists the scope types that admit c, narrowest first.
func (c Condition) ScopeTypes() []ScopeType {
	var out []ScopeType
	for _, st := range []ScopeType{ScopeCard, ScopeProjectColumn, ScopeProject} {
		if c.AdmissibleFor(st) {
			out = append(out, st)
		}
	}
	return out
}
