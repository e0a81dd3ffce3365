package workerapi

// JobRequest is the body of POST /v1/jobs.
type JobRequest struct {
	Queue       string   `json:"queue"`
	Environment string   `json:"environment"`
	BatchID     string   `json:"batch_id"`
	Source      string   `json:"source"`
	BooklistRef string   `json:"booklist_ref"`
	Items       []string `json:"items,omitempty"`
	// CallbackToken lets the worker post node progress for this batch.
	CallbackToken string `json:"callback_token,omitempty"`
}

type JobAccepted struct {
	ID     string `json:"id"`
	LogURL string `json:"log_url"`
}

type Node struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Status    string `json:"status"`
}

type Tally struct {
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

type Item struct {
	Ref     string `json:"ref"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// JobStatus is the body of GET /v1/jobs/{id}.
type JobStatus struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	Stage          string   `json:"stage"`
	Nodes          []Node   `json:"nodes"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	CurrentItem    string   `json:"current_item"`
	LogTail        []string `json:"log_tail"`
	Error          string   `json:"error"`
	Total          int      `json:"total"`
	Tally          Tally    `json:"tally"`
	Items          []Item   `json:"items"`
}
