// Copyright (c) OTPFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 OTPFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 OTPFlow 所有 HTTP 端点的请求处理逻辑，
包括 OTP 请求触发、会话管理、审计记录查询、健康检查
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - OTPHandler       — OTP 请求处理器，串起台账、浏览器流程与会话缓存
  - SessionHandler   — 会话查询、续期与注销，支持 Bearer 令牌校验
  - AttemptsHandler  — 请求审计记录查询（只暴露标识符哈希）
  - HealthHandler    — 服务健康检查（/healthz, /readyz, /version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、step、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（台账、审计存储等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 完整请求链路：冷却台账占位 → 开页 → 流程执行 → 会话缓存 → 令牌签发
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
