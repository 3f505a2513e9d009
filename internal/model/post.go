package model

// Post 社区帖子模型
type Post struct {
	Base
	UserID       uint   `gorm:"type:int(11);not null;index" json:"user_id"`
	Title        string `gorm:"type:varchar(200);not null" json:"title"`
	Content      string `gorm:"type:text;not null" json:"content"`
	CommentCount int    `gorm:"type:int(11);not null;default:0" json:"comment_count"`

	// 关联
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName 指定表名
func (Post) TableName() string {
	return "posts"
}
