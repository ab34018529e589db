package registry

import "context"

// Item is one file in a batch upload.
type Item struct {
	DisplayName string
	MIMEType    string
	Content     []byte
}

// BatchDetail is the per-item outcome of a batch upload.
type BatchDetail struct {
	File      string `json:"file"`
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message"`
	ID        string `json:"id,omitempty"`
}

// BatchResult summarizes a batch upload.
type BatchResult struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Details    []BatchDetail `json:"details"`
}

// BatchUpload uploads items one at a time in input order. A failed item
// does not stop the batch.
func (r *Registry) BatchUpload(ctx context.Context, items []Item) BatchResult {
	out := BatchResult{
		Total:   len(items),
		Details: make([]BatchDetail, 0, len(items)),
	}
	for _, it := range items {
		res := r.UploadDocument(ctx, it.Content, it.DisplayName, it.MIMEType)
		d := BatchDetail{
			File:      it.DisplayName,
			Success:   res.Success,
			Duplicate: res.Duplicate,
			Message:   res.Message,
		}
		if res.Document != nil {
			d.ID = res.Document.ID
		}
		if res.Success {
			out.Successful++
		} else {
			out.Failed++
		}
		out.Details = append(out.Details, d)
	}
	return out
}
