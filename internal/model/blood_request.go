package model

// 血型
const (
	BloodGroupAPos  = "A+"
	BloodGroupANeg  = "A-"
	BloodGroupBPos  = "B+"
	BloodGroupBNeg  = "B-"
	BloodGroupABPos = "AB+"
	BloodGroupABNeg = "AB-"
	BloodGroupOPos  = "O+"
	BloodGroupONeg  = "O-"
)

// BloodGroups 全部合法血型
var BloodGroups = []string{
	BloodGroupAPos, BloodGroupANeg,
	BloodGroupBPos, BloodGroupBNeg,
	BloodGroupABPos, BloodGroupABNeg,
	BloodGroupOPos, BloodGroupONeg,
}

// 紧急程度
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// Location 层级地址：locality ⊂ district ⊂ region
type Location struct {
	Locality string `gorm:"type:varchar(100);index" json:"locality"`
	District string `gorm:"type:varchar(100);index" json:"district"`
	Region   string `gorm:"type:varchar(100);index" json:"region"`
}

// BloodRequest 求助（用血）请求
type BloodRequest struct {
	Base
	BloodGroup  string `gorm:"type:varchar(4);not null;index" json:"blood_group"`
	Urgency     string `gorm:"type:varchar(10);not null;default:'medium'" json:"urgency"`
	Location    `gorm:"embedded"`
	RequesterID uint   `gorm:"type:int(11);not null;index" json:"requester_id"`
	Units       int    `gorm:"type:int(11);not null;default:1" json:"units"`
	Hospital    string `gorm:"type:varchar(200)" json:"hospital"`
	Note        string `gorm:"type:text" json:"note"`

	// 关联
	Requester  User        `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Volunteers []Volunteer `gorm:"foreignKey:RequestID" json:"volunteers,omitempty"`
}

// TableName 指定表名
func (BloodRequest) TableName() string {
	return "blood_requests"
}

// Volunteer 响应求助的献血志愿者
type Volunteer struct {
	Base
	RequestID            uint `gorm:"type:int(11);not null;uniqueIndex:idx_volunteer_request_responder" json:"request_id"`
	ResponderID          uint `gorm:"type:int(11);not null;uniqueIndex:idx_volunteer_request_responder" json:"responder_id"`
	SharesContactDetails bool `gorm:"not null;default:false" json:"shares_contact_details"`

	// 关联
	Responder User `gorm:"foreignKey:ResponderID" json:"responder,omitempty"`
}

// TableName 指定表名
func (Volunteer) TableName() string {
	return "blood_request_volunteers"
}
