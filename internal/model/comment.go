package model

// Comment 评论模型
type Comment struct {
	Base
	Content  string `gorm:"type:text;not null" json:"content"`
	PostID   uint   `gorm:"type:int(11);not null;index" json:"post_id"`
	UserID   uint   `gorm:"type:int(11);not null;index" json:"user_id"`
	ParentID *uint  `gorm:"type:int(11);index" json:"parent_id"`

	// 关联
	User   User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Parent *Comment `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
}

// TableName 指定表名
func (Comment) TableName() string {
	return "comments"
}
