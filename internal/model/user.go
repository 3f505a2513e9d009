package model

// User 用户模型，同时承载献血者资料
type User struct {
	Base
	Username   string `gorm:"type:varchar(50);not null;uniqueIndex" json:"username"`
	Nickname   string `gorm:"type:varchar(50)" json:"nickname"`
	Email      string `gorm:"type:varchar(100);index" json:"email"`
	Phone      string `gorm:"type:varchar(20)" json:"phone"`
	Avatar     string `gorm:"type:varchar(255)" json:"avatar"`
	Role       string `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	IsDonor    bool   `gorm:"not null;default:false;index:idx_donor_group" json:"is_donor"`
	BloodGroup string `gorm:"type:varchar(4);index:idx_donor_group" json:"blood_group"`
	Locality   string `gorm:"type:varchar(100);index" json:"locality"`
	District   string `gorm:"type:varchar(100);index" json:"district"`
	Region     string `gorm:"type:varchar(100);index" json:"region"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// DisplayName 通知文案中使用的名称
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}
