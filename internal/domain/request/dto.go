package request

type CreateRequestBody struct {
	DealerID      int64    `json:"dealer_id"`
	DealerCode    string   `json:"dealer_code"`
	TerritoryID   *int64   `json:"territory_id"`
	JobType       string   `json:"job_type" binding:"required"`
	JobDetail     string   `json:"job_detail" binding:"max=2000"`
	PosmType      string   `json:"posm_type" binding:"max=100"`
	CurrentPosm   string   `json:"current_posm" binding:"max=500"`
	Priority      string   `json:"priority"`
	RequestedDate string   `json:"requested_date"`
	Photos        []string `json:"photos" binding:"required,min=1"`
}

type StatusBody struct {
	Status          string   `json:"status" binding:"required"`
	PlannedDate     string   `json:"planned_date"`
	CompletedDate   string   `json:"completed_date"`
	CompletionNotes *string  `json:"completion_notes"`
	Photos          []string `json:"photos"`
	Revision        int64    `json:"revision"`
}

type PhotosBody struct {
	Photos   []string `json:"photos" binding:"required,min=1"`
	Revision int64    `json:"revision"`
}

type PriorityBody struct {
	Priority string `json:"priority" binding:"required"`
	Revision int64  `json:"revision"`
}

type DetailBody struct {
	JobDetail string `json:"job_detail" binding:"max=2000"`
	Revision  int64  `json:"revision"`
}

type ImportRowBody struct {
	DealerCode      string   `json:"dealer_code" validate:"required"`
	JobType         string   `json:"job_type" validate:"required"`
	JobDetail       string   `json:"job_detail"`
	PosmType        string   `json:"posm_type"`
	CurrentPosm     string   `json:"current_posm"`
	Priority        string   `json:"priority"`
	Status          string   `json:"status"`
	RequestedDate   string   `json:"requested_date" validate:"required,datetime=2006-01-02"`
	PlannedDate     string   `json:"planned_date" validate:"omitempty,datetime=2006-01-02"`
	CompletedDate   string   `json:"completed_date" validate:"omitempty,datetime=2006-01-02"`
	CompletionNotes string   `json:"completion_notes"`
	Photos          []string `json:"photos"`
}

type ImportBody struct {
	Rows []ImportRowBody `json:"rows" binding:"required,min=1,max=5000"`
}
