package dto

import "time"

// BloodRequestCreateRequest 发布用血求助请求
type BloodRequestCreateRequest struct {
	BloodGroup string `json:"blood_group" binding:"required,bloodgroup"`
	Urgency    string `json:"urgency" binding:"omitempty,oneof=low medium high"`
	Locality   string `json:"locality" binding:"required,max=100"`
	District   string `json:"district" binding:"omitempty,max=100"`
	Region     string `json:"region" binding:"omitempty,max=100"`
	Units      int    `json:"units" binding:"omitempty,min=1,max=20"`
	Hospital   string `json:"hospital" binding:"omitempty,max=200"`
	Note       string `json:"note" binding:"omitempty,max=1000"`
}

// VolunteerRequest 志愿者响应请求
type VolunteerRequest struct {
	SharesContactDetails bool `json:"shares_contact_details"`
}

// BloodRequestResponse 用血求助响应
type BloodRequestResponse struct {
	ID          uint                `json:"id"`
	BloodGroup  string              `json:"blood_group"`
	Urgency     string              `json:"urgency"`
	Locality    string              `json:"locality"`
	District    string              `json:"district"`
	Region      string              `json:"region"`
	RequesterID uint                `json:"requester_id"`
	Units       int                 `json:"units"`
	Hospital    string              `json:"hospital"`
	Note        string              `json:"note"`
	Volunteers  []VolunteerResponse `json:"volunteers"`
	CreatedAt   time.Time           `json:"created_at"`
}

// VolunteerResponse 志愿者信息
type VolunteerResponse struct {
	ResponderID          uint   `json:"responder_id"`
	SharesContactDetails bool   `json:"shares_contact_details"`
	Name                 string `json:"name"`
	Phone                string `json:"phone,omitempty"`
}

// DeliveryReportResponse 通知分发结果
type DeliveryReportResponse struct {
	Tier       string `json:"tier"`
	Candidates int    `json:"candidates"`
	Written    int    `json:"written"`
	Pushed     int    `json:"pushed"`
	Failed     int    `json:"failed"`
}
