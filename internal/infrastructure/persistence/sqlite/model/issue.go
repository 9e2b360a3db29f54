package model

type Issue struct {
	IssueID      uint64  `gorm:"column:issue_id;primaryKey;autoIncrement"`
	ExternalKey  string  `gorm:"column:external_key;type:text;not null;uniqueIndex:idx_issue_identity,priority:1"`
	ProjectKey   string  `gorm:"column:project_key;type:text;not null;uniqueIndex:idx_issue_identity,priority:2;index:idx_issue_project_status,priority:1"`
	Rule         string  `gorm:"column:rule;type:text;not null"`
	Severity     string  `gorm:"column:severity;type:text;not null"`
	FilePath     string  `gorm:"column:file_path;type:text;not null"`
	Line         *int    `gorm:"column:line"`
	Message      *string `gorm:"column:message;type:text"`
	Status       string  `gorm:"column:status;type:text;not null;default:NEW;index:idx_issue_project_status,priority:2"`
	PRURL        *string `gorm:"column:pr_url;type:text"`
	PRBranch     *string `gorm:"column:pr_branch;type:text"`
	MergeOutcome string  `gorm:"column:merge_outcome;type:text;not null;default:unknown"`
	CreatedAt    string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt    string  `gorm:"column:updated_at;type:text;not null"`
}

func (Issue) TableName() string {
	return "issues"
}
