package parcel

// Summary 聚合 dashboard/statistics 视图需要的计数与金额。
type Summary struct {
	Role       string         `json:"role"`
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"byStatus"`
	Active     int            `json:"active"`
	TotalFee   float64        `json:"totalFee"`
	Delivered  int            `json:"delivered"`
	Cancelled  int            `json:"cancelled"`
	SuccessPct float64        `json:"successRate"`
	Recent     []Parcel       `json:"recent,omitempty"`
}

// Summarize 根据列表计算汇总信息；recent 控制保留的最近记录条数（按输入顺序）。
func Summarize(role string, parcels []Parcel, recent int) Summary {
	s := Summary{
		Role:     role,
		Total:    len(parcels),
		ByStatus: make(map[Status]int, len(Statuses)),
	}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	for _, p := range parcels {
		s.ByStatus[p.Status]++
		if !p.Status.Terminal() {
			s.Active++
		}
		if p.Status != StatusCancelled {
			s.TotalFee += p.Fee
		}
	}
	s.Delivered = s.ByStatus[StatusDelivered]
	s.Cancelled = s.ByStatus[StatusCancelled]
	if s.Total > 0 {
		s.SuccessPct = float64(s.Delivered) * 100 / float64(s.Total)
	}
	if recent > 0 && len(parcels) > 0 {
		if recent > len(parcels) {
			recent = len(parcels)
		}
		s.Recent = append([]Parcel(nil), parcels[:recent]...)
	}
	return s
}
