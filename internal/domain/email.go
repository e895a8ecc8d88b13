package domain

import "time"

// NoSubjectPlaceholder 邮件缺少主题时使用的占位文本。
const NoSubjectPlaceholder = "(No Subject)"

// Email 表示一封已入库的邮件记录。
//
// 记录一旦写入便不可修改，也不提供删除操作；生命周期完全由存储层管理。
// 主题与正文不指定列类型，由方言决定：PostgreSQL 为 text，MySQL 为 longtext。
// 邮箱本身不建模为实体，收件人地址字符串即为一对多关系的外键。
type Email struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Recipient string    `json:"recipient" gorm:"type:varchar(320);not null;index:idx_emails_recipient_created,priority:1"`
	Sender    string    `json:"sender" gorm:"type:varchar(512);not null"`
	Subject   string    `json:"subject" gorm:"not null"`
	BodyText  string    `json:"body_text" gorm:"not null"`
	BodyHTML  string    `json:"body_html" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index:idx_emails_recipient_created,priority:2"`
}

// TableName 指定 GORM 表名。
func (Email) TableName() string {
	return "emails"
}

// Summary 返回不含正文的列表视图。
func (e *Email) Summary() EmailSummary {
	return EmailSummary{
		ID:        e.ID,
		Sender:    e.Sender,
		Subject:   e.Subject,
		CreatedAt: e.CreatedAt,
	}
}

// EmailSummary 收件箱列表项，不包含正文字段以控制响应体大小。
type EmailSummary struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

// ParsedEmail 表示从原始 MIME 内容中解析出的字段。
//
// 附件不参与解析结果。
type ParsedEmail struct {
	Sender    string
	Subject   string
	Text      string
	HTML      string
	MessageID string
}
