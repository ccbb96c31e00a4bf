package parcel

import "time"

// Status 描述包裹当前所处的状态，取值与上游 API 保持一致。
type Status string

const (
	StatusRequested  Status = "requested"
	StatusApproved   Status = "approved"
	StatusDispatched Status = "dispatched"
	StatusInTransit  Status = "in-transit"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
	StatusReturned   Status = "returned"
)

// Statuses 按生命周期顺序列出所有状态，统计时用于稳定输出。
var Statuses = []Status{
	StatusRequested,
	StatusApproved,
	StatusDispatched,
	StatusInTransit,
	StatusDelivered,
	StatusCancelled,
	StatusBlocked,
	StatusReturned,
}

// Terminal 表示状态是否已经不可再流转。
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// Party 是寄件人/收件人信息。
type Party struct {
	ID      string `json:"_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// StatusLog 记录一次状态变更。
type StatusLog struct {
	Status    Status    `json:"status"`
	Note      string    `json:"note,omitempty"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Parcel 是缓存中的领域记录。进入缓存后视为不可变值：任何修改都通过
// 复制出新值完成，订阅方可以依赖引用变化判断数据是否更新。
type Parcel struct {
	ID              string      `json:"_id"`
	TrackingID      string      `json:"trackingId"`
	Sender          Party       `json:"sender"`
	Receiver        Party       `json:"receiver"`
	Type            string      `json:"type,omitempty"`
	Weight          float64     `json:"weight,omitempty"`
	Fee             float64     `json:"fee"`
	DeliveryAddress string      `json:"deliveryAddress,omitempty"`
	Status          Status      `json:"currentStatus"`
	StatusLog       []StatusLog `json:"statusLog,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// WithStatus 返回状态被替换后的副本，原值保持不变。
func (p Parcel) WithStatus(status Status) Parcel {
	p.Status = status
	return p
}

// IDs 按原有顺序返回包裹 ID 列表。
func IDs(parcels []Parcel) []string {
	if len(parcels) == 0 {
		return nil
	}
	ids := make([]string, len(parcels))
	for i, p := range parcels {
		ids[i] = p.ID
	}
	return ids
}

// Dedupe 按 ID 去重，保留首次出现的记录。
func Dedupe(parcels []Parcel) []Parcel {
	if len(parcels) == 0 {
		return parcels
	}
	seen := make(map[string]struct{}, len(parcels))
	out := make([]Parcel, 0, len(parcels))
	for _, p := range parcels {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Without 返回移除指定 ID 后的新切片；未命中时返回原切片与 false。
func Without(parcels []Parcel, id string) ([]Parcel, bool) {
	idx := indexOf(parcels, id)
	if idx < 0 {
		return parcels, false
	}
	out := make([]Parcel, 0, len(parcels)-1)
	out = append(out, parcels[:idx]...)
	out = append(out, parcels[idx+1:]...)
	return out, true
}

// Replace 用 fn 的结果替换指定 ID 的记录，其余元素原样复制到新切片。
func Replace(parcels []Parcel, id string, fn func(Parcel) Parcel) ([]Parcel, bool) {
	idx := indexOf(parcels, id)
	if idx < 0 {
		return parcels, false
	}
	out := make([]Parcel, len(parcels))
	copy(out, parcels)
	out[idx] = fn(parcels[idx])
	return out, true
}

func indexOf(parcels []Parcel, id string) int {
	for i := range parcels {
		if parcels[i].ID == id {
			return i
		}
	}
	return -1
}
