// Package server は管理用のHTTP APIを提供します。
//
// カメラ・描画コンテキスト・コンパス・周期タスクの状態確認と操作を
// JSONで公開します。リソースはAPI上ではUUIDで識別され、内部のハンドルは公開しません。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - ルーティングとリクエストの検証
//   - ステータスコードからHTTPステータスへの変換
//
// 仕様:
//   - gin を使用
//   - 操作の結果は {"code": <int>, "status": <name>} で返す
//   - 未対応フォーマットは 422、使用中は 409、存在しないリソースは 404
package server
