package model

// ESDonor Elasticsearch献血者文档模型
type ESDonor struct {
	UserID     uint   `json:"user_id"`
	BloodGroup string `json:"blood_group"`
	Locality   string `json:"locality"`
	District   string `json:"district"`
	Region     string `json:"region"`
}

// NewESDonor 从用户资料构建文档
func NewESDonor(u *User) ESDonor {
	return ESDonor{
		UserID:     u.ID,
		BloodGroup: u.BloodGroup,
		Locality:   u.Locality,
		District:   u.District,
		Region:     u.Region,
	}
}

// ESIndexName 返回ES索引名称
func (ESDonor) ESIndexName() string {
	return "donors"
}

// ESMapping 返回ES索引映射，地址字段按精确值匹配
func (ESDonor) ESMapping() string {
	return `{
		"settings": {
			"number_of_shards": 1,
			"number_of_replicas": 1
		},
		"mappings": {
			"properties": {
				"user_id": { "type": "long" },
				"blood_group": { "type": "keyword" },
				"locality": { "type": "keyword" },
				"district": { "type": "keyword" },
				"region": { "type": "keyword" }
			}
		}
	}`
}
