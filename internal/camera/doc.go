// Package camera カメラデバイスとキャプチャセッションのライフサイクルを管理する
//
// # 責務
// - デバイスの列挙（プロセスごとに一度だけ）
// - デバイスのオープン・クローズとキャプチャセッションの状態遷移
// - ハンドルテーブルによるネイティブリソースの寿命管理
//
// # 仕様
//   - 状態遷移: CLOSED → OPEN → {REPEATING | CAPTURING} → OPEN → CLOSED
//   - Open / StopRepeat / StopCapture / Close は冪等
//   - Repeat / Capture は暗黙的に Open を呼ぶ
//   - 動作中のセッションがある状態で Repeat / Capture を呼ぶと、既存のセッションを
//     停止して新しいセッションに置き換える
//   - 未対応フォーマットは status.NotSupported (95)、使用中は status.Busy を返すため
//     呼び出し側は「フォーマット拒否」と「ハードウェア使用中」を区別できる
//   - デバイスごとの操作は専用のキューで直列化される
//
// # バックエンド
//   - V4L2Backend: /dev/video* を外部カメラとして扱う
//   - MockBackend: テスト用
package camera
