package models

import "time"

// VersionedModel carries the optimistic concurrency token shared by every stored document.
// Version is 0 for a document that has never been written and grows by one on each write.
type VersionedModel struct {
	Version   int64     `gorm:"not null;default:0" json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Exists 判断文档是否已经被持久化过。
func (v VersionedModel) Exists() bool {
	return v.Version > 0
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
