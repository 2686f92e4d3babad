// Copyright (c) OTPFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 OTPFlow 服务端程序入口。

# 概述

cmd/otpflow 是 OTPFlow 服务的可执行入口，把目标站点的登录 / OTP 请求
流程包装成 HTTP API。程序支持 YAML 配置文件加载、结构化日志（zap）、
Prometheus 指标采集以及选择器配置热重载。

# 核心类型

  - Server           — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、MetricsMiddleware、RateLimiter（基于 IP）、
    APIKeyAuth（X-API-Key / query 参数）
  - 配置热重载：HotReloadManager 监听文件变更，选择器更新直达流程执行器
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止热更新 → 关闭 HTTP → 释放会话与浏览器 → Wait
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
