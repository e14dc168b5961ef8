package camera

import "fmt"

// NewBackend は名前からBackendを作成する
//
//   - "v4l2": LinuxのV4L2デバイス
//   - "mock": 指定された向きのモックデバイス
func NewBackend(name string, mockFacings []Facing) (Backend, error) {
	switch name {
	case "v4l2":
		return NewV4L2Backend(), nil
	case "mock":
		return NewMockBackend(mockFacings...), nil
	default:
		return nil, fmt.Errorf("不明なカメラバックエンド: %s", name)
	}
}

// ParseFacing は文字列からレンズの向きを取得する
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "front":
		return FacingFront, nil
	case "back":
		return FacingBack, nil
	case "external":
		return FacingExternal, nil
	default:
		return FacingExternal, fmt.Errorf("不明なレンズの向き: %s", s)
	}
}
