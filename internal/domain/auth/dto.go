package auth

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type CreateUserRequest struct {
	Email    string  `json:"email" binding:"required,email"`
	Name     string  `json:"name" binding:"required,min=2"`
	Password string  `json:"password" binding:"required,min=8"`
	Role     string  `json:"role" binding:"required,oneof=admin tech user"`
	DepotIDs []int64 `json:"depot_ids"`
}

type SetDepotsRequest struct {
	DepotIDs []int64 `json:"depot_ids"`
}
