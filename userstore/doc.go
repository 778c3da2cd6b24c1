// Package userstore is the relational account store behind goIdentity.
//
// [Store] implements goIdentity.UserStore on gorm. Username and email changes
// lock the subject row, re-check uniqueness and write inside one transaction;
// the unique indexes on both columns are the final backstop against concurrent
// claims. Open the database with gorm.Config.TranslateError so index violations
// surface as gorm.ErrDuplicatedKey.
package userstore
