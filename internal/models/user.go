package models

import "slices"

// UserRecord 代表一个用户文档，包含嵌入的请求列表、好友列表以及已处理请求的历史。
type UserRecord struct {
	ID            string        `gorm:"primaryKey;type:varchar(128)" json:"id" bson:"_id"`
	DisplayName   string        `gorm:"type:varchar(100)" json:"displayName" bson:"displayName"`
	OfferedSkills []string      `gorm:"serializer:json" json:"offeredSkills" bson:"offeredSkills"`
	WantedSkills  []string      `gorm:"serializer:json" json:"wantedSkills" bson:"wantedSkills"`
	Availability  string        `gorm:"type:text" json:"availability" bson:"availability"`
	Requests      []SwapRequest `gorm:"serializer:json" json:"requests" bson:"requests"`
	Friends       []string      `gorm:"serializer:json" json:"friends" bson:"friends"`
	History       []SwapRequest `gorm:"serializer:json" json:"history" bson:"history"`

	VersionedModel `bson:",inline"`
}

// TableName 指定 UserRecord 模型的表名。
func (UserRecord) TableName() string {
	return "users"
}

// EmptyUserRecord is what a read of a missing user yields.
func EmptyUserRecord(id string) *UserRecord {
	return &UserRecord{
		ID:            id,
		OfferedSkills: []string{},
		WantedSkills:  []string{},
		Requests:      []SwapRequest{},
		Friends:       []string{},
		History:       []SwapRequest{},
	}
}

// Clone returns a deep copy.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	c := *u
	c.OfferedSkills = cloneStrings(u.OfferedSkills)
	c.WantedSkills = cloneStrings(u.WantedSkills)
	c.Requests = cloneRequests(u.Requests)
	c.Friends = cloneStrings(u.Friends)
	c.History = cloneRequests(u.History)
	return &c
}

// Normalize replaces nil slices with empty ones so JSON renders [] instead of null.
func (u *UserRecord) Normalize() {
	if u.OfferedSkills == nil {
		u.OfferedSkills = []string{}
	}
	if u.WantedSkills == nil {
		u.WantedSkills = []string{}
	}
	if u.Requests == nil {
		u.Requests = []SwapRequest{}
	}
	if u.Friends == nil {
		u.Friends = []string{}
	}
	if u.History == nil {
		u.History = []SwapRequest{}
	}
}

// HasFriend 判断 friendID 是否已在好友列表中。
func (u *UserRecord) HasFriend(friendID string) bool {
	return slices.Contains(u.Friends, friendID)
}

// CountSwaps returns the number of accepted requests in the history.
func (u *UserRecord) CountSwaps() int {
	n := 0
	for _, r := range u.History {
		if r.Status == SwapRequestStatusAccepted {
			n++
		}
	}
	return n
}

// UserBasicInfo holds minimal public information about a user.
type UserBasicInfo struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"displayName"`
	OfferedSkills []string `json:"offeredSkills"`
	WantedSkills  []string `json:"wantedSkills"`
	Availability  string   `json:"availability,omitempty"`
}

// BasicInfo 提取用户的公开信息。
func (u *UserRecord) BasicInfo() *UserBasicInfo {
	return &UserBasicInfo{
		ID:            u.ID,
		DisplayName:   u.DisplayName,
		OfferedSkills: cloneStrings(u.OfferedSkills),
		WantedSkills:  cloneStrings(u.WantedSkills),
		Availability:  u.Availability,
	}
}
