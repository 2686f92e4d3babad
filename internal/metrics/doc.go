// 版权所有 2024 OTPFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、流程、浏览器、会话与去重台账五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 流程指标：流程运行总数与耗时（按 channel/outcome 分组）、
    单步耗时、选择器等待重试次数分布。
  - 浏览器指标：当前打开的页面数 Gauge。
  - 会话指标：活跃会话数 Gauge、TTL 回收计数。
  - 台账指标：去重预约结果计数（accepted/duplicate）。
*/
package metrics
