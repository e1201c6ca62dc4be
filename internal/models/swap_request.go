package models

import "time"

// SwapRequestStatus 定义技能交换请求的状态
type SwapRequestStatus string

const (
	SwapRequestStatusPending  SwapRequestStatus = "Pending"
	SwapRequestStatusAccepted SwapRequestStatus = "Accepted"
	SwapRequestStatusRejected SwapRequestStatus = "Rejected"
)

// SwapRequest 是嵌入在接收者用户记录中的技能交换请求。
// FromUserName is a snapshot taken at submission time and may go stale.
type SwapRequest struct {
	ID           string            `json:"id" bson:"id"`
	FromUserID   string            `json:"fromUserId" bson:"fromUserId"`
	FromUserName string            `json:"fromUserName" bson:"fromUserName"`
	OfferedSkill string            `json:"offeredSkill" bson:"offeredSkill"`
	WantedSkill  string            `json:"wantedSkill" bson:"wantedSkill"`
	Message      string            `json:"message" bson:"message"`
	Status       SwapRequestStatus `json:"status" bson:"status"`
	CreatedAt    time.Time         `json:"createdAt" bson:"createdAt"`
	ResolvedAt   *time.Time        `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
}

// IsPending reports whether the request still waits for the receiver.
func (r SwapRequest) IsPending() bool {
	return r.Status == SwapRequestStatusPending
}

// Resolve returns a copy of the request carrying a terminal status.
func (r SwapRequest) Resolve(status SwapRequestStatus, at time.Time) SwapRequest {
	resolved := r
	resolved.Status = status
	t := at
	resolved.ResolvedAt = &t
	return resolved
}

// IndexedSwapRequest 是列表接口返回的 DTO，Index 仅用于展示。
type IndexedSwapRequest struct {
	SwapRequest
	Index int `json:"index"`
}

// FindRequest returns the position of the request with the given id, or -1.
func FindRequest(requests []SwapRequest, id string) int {
	for i := range requests {
		if requests[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneRequests(in []SwapRequest) []SwapRequest {
	if in == nil {
		return nil
	}
	out := make([]SwapRequest, len(in))
	for i, r := range in {
		out[i] = r
		if r.ResolvedAt != nil {
			t := *r.ResolvedAt
			out[i].ResolvedAt = &t
		}
	}
	return out
}
