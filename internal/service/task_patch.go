package service

import (
	"time"

	"github.com/bytedance/sonic"
)

var strictJSON = sonic.Config{DisallowUnknownFields: true}.Froze()

type taskPatchBody struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Priority    *int       `json:"priority"`
	Spiciness   *int       `json:"spiciness"`
	Deadline    *time.Time `json:"deadline"`
}

// UnmarshalJSON tells an absent deadline from an explicit null: absent
// leaves it unchanged, null clears it.
func (p *TaskPatch) UnmarshalJSON(data []byte) error {
	var body taskPatchBody
	if err := strictJSON.Unmarshal(data, &body); err != nil {
		return err
	}
	*p = TaskPatch{
		Title:       body.Title,
		Description: body.Description,
		Priority:    body.Priority,
		Spiciness:   body.Spiciness,
		Deadline:    body.Deadline,
	}
	if body.Deadline != nil {
		return nil
	}

	var fields map[string]any
	if err := sonic.Unmarshal(data, &fields); err != nil {
		return err
	}
	if v, ok := fields["deadline"]; ok && v == nil {
		p.ClearDeadline = true
	}
	return nil
}

func (p TaskPatch) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 5)
	if p.Title != nil {
		out["title"] = *p.Title
	}
	if p.Description != nil {
		out["description"] = *p.Description
	}
	if p.Priority != nil {
		out["priority"] = *p.Priority
	}
	if p.Spiciness != nil {
		out["spiciness"] = *p.Spiciness
	}
	switch {
	case p.ClearDeadline:
		out["deadline"] = nil
	case p.Deadline != nil:
		out["deadline"] = p.Deadline.UTC()
	}
	return sonic.Marshal(out)
}
