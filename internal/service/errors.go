package service

import "errors"

var (
	// ErrNotFound 记录不存在，或不属于当前用户
	ErrNotFound = errors.New("记录不存在")
	// ErrUnauthorized 无权操作
	ErrUnauthorized = errors.New("没有权限执行此操作")
	// ErrInvalidArgument 参数不合法
	ErrInvalidArgument = errors.New("参数不合法")
	// ErrConflict 重复操作，例如同一志愿者重复响应
	ErrConflict = errors.New("重复操作")
)
