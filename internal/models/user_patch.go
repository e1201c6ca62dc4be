package models

// UserPatch is a partial replacement of a user record. Nil fields are left untouched.
type UserPatch struct {
	DisplayName   *string
	OfferedSkills *[]string
	WantedSkills  *[]string
	Availability  *string
	Requests      *[]SwapRequest
	Friends       *[]string
	History       *[]SwapRequest
}

// IsEmpty 判断补丁是否没有任何字段。
func (p UserPatch) IsEmpty() bool {
	return len(p.Columns()) == 0
}

// Apply writes the patched fields into rec.
func (p UserPatch) Apply(rec *UserRecord) {
	if p.DisplayName != nil {
		rec.DisplayName = *p.DisplayName
	}
	if p.OfferedSkills != nil {
		rec.OfferedSkills = cloneStrings(*p.OfferedSkills)
	}
	if p.WantedSkills != nil {
		rec.WantedSkills = cloneStrings(*p.WantedSkills)
	}
	if p.Availability != nil {
		rec.Availability = *p.Availability
	}
	if p.Requests != nil {
		rec.Requests = cloneRequests(*p.Requests)
	}
	if p.Friends != nil {
		rec.Friends = cloneStrings(*p.Friends)
	}
	if p.History != nil {
		rec.History = cloneRequests(*p.History)
	}
}

// Columns lists the gorm column names touched by the patch.
func (p UserPatch) Columns() []string {
	var cols []string
	if p.DisplayName != nil {
		cols = append(cols, "display_name")
	}
	if p.OfferedSkills != nil {
		cols = append(cols, "offered_skills")
	}
	if p.WantedSkills != nil {
		cols = append(cols, "wanted_skills")
	}
	if p.Availability != nil {
		cols = append(cols, "availability")
	}
	if p.Requests != nil {
		cols = append(cols, "requests")
	}
	if p.Friends != nil {
		cols = append(cols, "friends")
	}
	if p.History != nil {
		cols = append(cols, "history")
	}
	return cols
}

// BSONFields maps the patch onto document field names.
func (p UserPatch) BSONFields() map[string]any {
	fields := map[string]any{}
	if p.DisplayName != nil {
		fields["displayName"] = *p.DisplayName
	}
	if p.OfferedSkills != nil {
		fields["offeredSkills"] = nonNilStrings(*p.OfferedSkills)
	}
	if p.WantedSkills != nil {
		fields["wantedSkills"] = nonNilStrings(*p.WantedSkills)
	}
	if p.Availability != nil {
		fields["availability"] = *p.Availability
	}
	if p.Requests != nil {
		fields["requests"] = nonNilRequests(*p.Requests)
	}
	if p.Friends != nil {
		fields["friends"] = nonNilStrings(*p.Friends)
	}
	if p.History != nil {
		fields["history"] = nonNilRequests(*p.History)
	}
	return fields
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilRequests(in []SwapRequest) []SwapRequest {
	if in == nil {
		return []SwapRequest{}
	}
	return in
}
