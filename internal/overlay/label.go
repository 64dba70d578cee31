package overlay

import (
	"fmt"
	"strings"

	"github.com/langchou/fleetgazer/internal/models"
)

// MarkerLabel 生成标记的展示文本
// 名称缺失时退回 vehicleId，遥测字段缺失时对应段落省略
func MarkerLabel(s *models.VehicleState) string {
	name := s.Name
	if name == "" {
		name = s.VehicleID
	}

	parts := []string{name}
	if s.Speed != nil {
		parts = append(parts, fmt.Sprintf("%.0f km/h", *s.Speed))
	}
	if s.Temperature != nil {
		parts = append(parts, fmt.Sprintf("%.1f°C", *s.Temperature))
	}
	if s.Fuel != nil {
		parts = append(parts, fmt.Sprintf("%.0f%%", *s.Fuel))
	}
	if !s.Online {
		parts = append(parts, "offline")
	}

	return strings.Join(parts, " | ")
}
