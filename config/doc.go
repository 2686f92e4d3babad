// Package config 提供 OTPFlow 的配置管理功能。
//
// 包含配置加载、热重载、配置 API 和变更历史管理。
// 支持从文件和环境变量加载配置，并提供运行时热重载能力，
// 典型场景是目标站点改版后在线更新选择器。
package config
