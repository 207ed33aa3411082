package handler

import (
	"encoding/json"
	"net/http"
)

// healthResponse 健康检查响应体
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	service string
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(service string) *HealthHandler {
	return &HealthHandler{service: service}
}

// ServeHTTP 返回 HTTP 200 表示服务正常
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(healthResponse{Status: "ok", Service: h.service})
}
